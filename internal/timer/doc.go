// Package timer holds the in-memory and persisted state of one scheduled
// timer and the lifecycle it moves through:
//
//	CREATED --Schedule--> ACTIVE --BeginTimeout--> IN_TIMEOUT --EndTimeout--> ACTIVE | EXPIRED
//	any non-terminal --Cancel--> CANCELED
//
// CANCELED and EXPIRED are terminal. Records are plain values; callers
// serialize access (the scheduler holds one mutex per timer).
package timer
