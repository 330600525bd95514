// Package job defines the observed job record, its forward-only status
// machine, and the store interface for records and the active pointer.
//
//	pending → running → success
//	pending → running → failure
//	pending → failure            (superseded before it started)
//
// Records are written only by the lifecycle coordinator. Readers (the
// HTTP surface, relay, clients) treat them as read-only.
//
// Each distribution scope has at most one active job. Pointing the scope
// at a new job supersedes the old one; see package lifecycle.
package job
