// Package tasks implements task ownership, persistence and the task service.
//
// Every task has exactly one owner, the user that created it. Authorize is the
// single place where ownership is enforced:
//   - reading or deleting another user's task reports ErrNotFound, so the
//     existence of foreign tasks is never revealed;
//   - updating another user's task reports ErrForbidden.
//
// Stores return ErrNotFound for missing rows and for tasks whose owner does not
// exist. Service publishes an Event after every successful mutation.
package tasks
