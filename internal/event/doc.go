// Package event is the in-process pub/sub bus that carries run progress
// from the scheduler and merge phases to observers.
//
// Publishers never know who is listening: the monitor redraws from
// task.status events and the session snapshot is rewritten on every one of
// them. Handlers run synchronously on the publisher's goroutine, so they
// must be quick; a handler that panics is logged and skipped.
//
// Event types follow "category.action":
//   - task.status, task.attempt
//   - merge.branch
//   - phase.started, phase.completed
package event
