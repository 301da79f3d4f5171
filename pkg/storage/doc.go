// Package storage provides the persistence plumbing shared by the
// authorization core: PostgreSQL connection management, an embedded SQL
// migration runner, and the S3-backed document blob boundary used to
// issue presigned download URLs for granted share-link views.
//
// The core's own entities (groups, resource permissions, share links,
// views, audit events) live in their owning packages; each package
// exposes its schema as a []storage.Migration list applied here.
package storage
