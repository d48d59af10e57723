// Package checkpoint creates, lists, verifies and restores project snapshots.
//
// A checkpoint is an immutable directory under checkpoints/snapshots/<id>
// holding a copy of the state document, the handoff narrative, the active
// agent and capability records, a session descriptor, scrubbed tails of the
// decision and execution logs, git provenance, and a manifest of content
// digests. Ids have the form CP_<macro-phase>_<seq>, where seq counts the
// checkpoint log entries for that phase.
//
// Every live state document mutation goes through the atomic write
// primitives in internal/txn: Create commits the document only after the
// snapshot and its manifest exist, and Restore backs up the live state and
// then replaces it in a single transaction.
package checkpoint
