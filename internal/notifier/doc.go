// Package notifier delivers rendered reminder and weather messages.
//
// Fired triggers never talk to Telegram directly. Their jobs hand a
// kit.Notification to Service.Notify, which queues it and returns. Workers
// drain the queue through one token bucket sized for Telegram's per-bot send
// limit and retry transient failures with jittered backoff.
//
// A notification carries its Source, the tag of the trigger that produced it.
// The same source sending the same text to the same chat inside DedupWindow
// is delivered once. With PersistDedup the window is also kept in the
// storage.DedupStore, so a trigger re-armed by a restart right after it fired
// does not repeat itself.
package notifier
