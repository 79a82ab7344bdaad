// Package engine implements the dependency-aware extract and load engine.
//
// An operation owns an ordered list of steps, one per object type, and the
// state shared across them. Steps run strictly in order on the caller's
// goroutine; only the Connection may parallelize internally.
//
// EXTRACTION:
//
// Each ExtractionStep pulls its root records (all, a WHERE clause, the
// descendants of earlier steps, or a fixed id set), writes each record at
// most once, and registers every in-operation id the record references as a
// dependency of the target type. Dependencies are retrieved by id; those that
// cannot be found are reported as UNRESOLVED_DEPENDENCY. Self references are
// followed to a fixpoint unless the step extracts every record anyway.
// Dependencies registered against a step that already ran are resolved after
// the last step.
//
// LOAD:
//
// A LoadOperation runs two stages. Inserts submits every input record with
// its self lookups and lookups to later steps left out, and records the id
// the target issued for each. Dependents re-reads the input and updates the
// deferred lookups through the id map. LoadState (stage + id map) is all a
// resumed run needs; a Journal may persist it as it changes.
//
// REFERENCES:
//
// A reference is classified per record by the key prefix of its value:
// the step's own type, an earlier step, a later step, or outside the
// operation. Outside references follow the step's OutsideLookupBehavior,
// which a field may override.
package engine
