// Package harness runs catsync scenarios: scripted sequences of upstream
// revisions, sync passes and curator operations, followed by assertions on
// the stored records, the audit trail and the checkpoints.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: curated_record_survives_import
//	description: "A curator edit is not overwritten by the next import"
//	steps:
//	  - upstream:
//	      cursor: r1
//	      records:
//	        work:
//	          - id: W1
//	            updated_at: 2024-01-01T00:00:00Z
//	            fields: { prefLabel_bo: ka }
//	  - sync: { type: work }
//	    expect: { report: { created: 1 } }
//	  - curate: { op: edit, id: W1, actor: "curator:a", fields: { prefLabel_bo: kha } }
//	assertions:
//	  - type: record
//	    id: W1
//	    expect: { prefLabel_bo: kha, curation.modified: true }
//	  - type: audit_order
//	    entity: W1
//	    actions: [import_update, edit]
//
// Each run uses a fresh in-memory store, a temporary upstream directory, a
// single sync worker, a stepping clock and sequential event and correlation
// ids, so the audit trail of a scenario is reproducible and can be compared
// against a golden file with RunWithGolden.
//
// # Step Types
//
//   - upstream: append a revision to the log and write its candidate documents
//   - sync: run one sync pass for a record type (force: true ignores the checkpoint)
//   - curate: run a curator operation (create, edit, withdraw, merge, restore, reset)
//
// A step's expect clause checks the error code (error: EDIT_CONFLICT) and, for
// sync steps, report counters and whether the checkpoint advanced.
//
// # Assertion Types
//
//   - record: subset match on a record's fields and bookkeeping, or absent: true
//   - audit_count: number of events matching entity, action and actor
//   - audit_order: the actions recorded for one entity, in order
//   - checkpoint: the stored cursor of a record type ("" for none)
//   - integrity: the integrity issue kinds found for a record type
package harness
