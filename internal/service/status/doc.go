// Package status applies run and action state transitions.
//
// Run states:
//   - CREATED -> RUNNING | ABORTED
//   - RUNNING -> COMPLETED | ABORTED
//
// Action states:
//   - PROPOSED -> PENDING_APPROVAL | APPROVED | REJECTED
//   - PENDING_APPROVAL -> APPROVED | REJECTED
//   - APPROVED -> EXECUTING -> EXECUTED | FAILED
//
// Every transition is a conditional write on the expected prior status and
// emits exactly one audit entry in the same transaction. A write that matches
// no row means another caller moved the record first; it returns
// INVALID_TRANSITION and mutates nothing.
package status
