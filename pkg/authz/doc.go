// Package authz implements the effective permission model for data room
// documents and folders.
//
// # Overview
//
// Access to a resource is resolved from three sources, in a fixed
// precedence order:
//
//  1. Ownership: the owner of a resource may do anything with it except
//     manage other users' permissions.
//  2. Administration: members of an ADMINISTRATOR-type group in the
//     resource's data room may do anything.
//  3. Explicit overrides: per-resource permission rows, scoped to a user
//     or a group, inherited down the folder tree when a resource has no
//     row of its own.
//
// Anything else is denied with INSUFFICIENT_PERMISSION.
//
// # Permission levels
//
// Levels are ordered: none < view < download < edit < manage. A resolved
// level satisfies an operation iff it is at least the operation's
// required level.
//
// # Overrides and inheritance
//
// An explicit row on a document or folder beats anything inherited from
// an ancestor folder. A user-scoped row beats group-scoped rows on the
// same resource. When a user reaches a resource through several groups
// with different overrides, the highest level wins: permissions are
// additive across memberships, never restrictive.
//
// The ancestor walk is iterative with a visited set; a corrupted cyclic
// parent chain fails closed (treated as no override found) and is logged.
//
// # Consistency
//
// The resolver performs only reads and holds no decision cache, so a
// permission write is visible to every resolution issued after the write
// completes. Store read failures surface as a deny paired with a non-nil
// error so callers can answer "temporarily unavailable" instead of
// "forbidden".
package authz
