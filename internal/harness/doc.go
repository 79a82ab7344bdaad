// Package harness runs extract and load scenarios against in-memory orgs.
//
// A scenario declares the object types of both orgs, the records of the
// source org, an operation document, and which phases to run. The harness
// extracts from the source org into an in-memory file store and loads those
// files into an empty target org, then evaluates assertions and compares
// every file against a golden snapshot.
//
// # Scenario Format
//
//	name: account_roundtrip
//	description: "What this scenario validates"
//	run_id: fixed-run
//	objects:
//	  - name: Account
//	    prefix: "001"
//	    fields:
//	      - {name: Name, type: string}
//	      - {name: ParentId, type: reference, reference-to: [Account]}
//	source:
//	  Account:
//	    - {Id: 001000000000001AAA, Name: Acme}
//	inputs:
//	  Account.csv: |
//	    Id,Name
//	operation: |
//	  version: 2
//	  operation:
//	    - sobject: Account
//	phases: [extract, load]
//	fail_inserts:
//	  - {sobject: Account, field: Name, value: Bad, status: DUPLICATE_VALUE, message: duplicate}
//	assertions:
//	  - type: errors
//	    phase: load
//	    count: 1
//	    kinds: [REMOTE_FAILURE]
//	  - type: final_state
//	    org: target
//	    sobject: Account
//	    where: {Name: Acme}
//	    expect: {ParentId: ""}
//
// # Assertion Types
//
//   - errors: the errors recorded by a phase, by count and kind
//   - record_count: the number of records of an object type in an org
//   - final_state: a record matching where has the expected values
//   - reference: a loaded lookup points at the new id of the expected record
//   - call_count: an org received exactly N calls of an operation
//   - call_order: an org received calls in the given order
//
// # Deterministic Testing
//
// The source org issues ids numbered from 1, the target org from 1001, and
// every run uses a fixed run id, so the files of a scenario are identical
// across runs and can be compared byte for byte.
package harness
