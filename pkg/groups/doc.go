// Package groups implements the data room group and capability model.
//
// Every data room owns a set of groups. A group has a type (ADMINISTRATOR,
// USER, or CUSTOM) and a fixed set of boolean capability flags. Groups of
// type ADMINISTRATOR hold full authority over their room; capability flags
// on USER and CUSTOM groups grant narrow cross-cutting abilities (viewing
// activity logs, managing users) without full administration.
//
// Group membership is the bridge into per-resource authorization: the
// effective permission resolver in pkg/authz consults this package to
// learn a user's groups and administrator status within a room.
package groups
