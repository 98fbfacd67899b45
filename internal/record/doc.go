// Package record defines the catalog record model shared by every catsync
// component: the stored Record, the Candidate produced by the upstream record
// transformer, the business Fields schema and the error taxonomy.
//
// # Ownership
//
// Every business field (including each key of Fields.Extra) is source-owned:
// imports may overwrite it as long as the record has not been curated.
// The source.* and import.* sections are written by imports only, curation.*
// by curators only, and record_status / canonical_id by the lifecycle state
// machine only.
//
// # Invariants
//
//   - a local record has no source.updated_at and imports never touch its fields
//   - curation.modified freezes every business field against imports
//   - a duplicate points at another record through canonical_id, never at itself
//   - curation.edit_version grows by exactly one per curation write
package record
