// Package scheduler is the timer service: it owns the timers of every
// registered owner, fires their callbacks at the computed instants and keeps
// the store in sync.
//
// Each owner runs one loop goroutine holding a min-heap of pending
// expirations. Due timers are handed to the task engine; the engine's
// completion callback re-arms or expires the record. State changes mark the
// owner dirty and a cron job flushes dirty owners to the store.
package scheduler
