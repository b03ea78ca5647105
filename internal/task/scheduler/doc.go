// Package scheduler owns the live trigger registry.
//
// Triggers are keyed by the owning document ID and a role (start, repeat,
// end, daily); the tag "<id>:<role>" is deterministic, so re-registering the
// same document replaces rather than duplicates. Repeating triggers run on
// robfig/cron with an anchored schedule, one-shots on time.AfterFunc. A fired
// trigger never does work inline: it enqueues an engine.Task.
package scheduler
