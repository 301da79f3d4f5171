// Package links implements public share links and the gate that admits
// anonymous visitors through them.
//
// A share link points at exactly one document and carries its own
// constraints: optional password, expiry, view quota, and an email
// allow-list or domain restriction. The gate evaluates a visit against
// those constraints in a fixed order (revoked, expired, exhausted,
// password, email) so the reported denial reason is deterministic, then
// atomically consumes a view slot: the view record and the counter
// increment commit together or not at all. Two concurrent visits racing
// for the last slot cannot both succeed.
//
// A granted visit yields a bounded capability: one view of one document,
// optionally with a short-lived presigned download URL. It never confers
// member-level access; that is pkg/authz territory.
package links
