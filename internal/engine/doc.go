// Package engine coordinates image loads across the memory, disk and network
// tiers.
//
// Every request walks the same state machine:
//
//	MEM_LOOKUP ── hit ──────────────────────────────────────────▶ done
//	    │ miss
//	DISK_LOOKUP ── hit ──▶ DECODE ──▶ POPULATE_MEM ─────────────▶ done
//	    │ miss
//	NETWORK_FETCH ── ok ──▶ DISK_COMMIT ──▶ DISK_LOOKUP
//	    │ failure
//	FAILED
//
// MEM_LOOKUP runs on the calling goroutine and never blocks. Everything after
// it runs on a fixed-size Pool. A request for a key whose load is already
// queued or running joins it without taking a worker; the leader's task
// delivers to every joined request, so each request gets exactly one Result. Results are delivered by a single Completion goroutine
// in the order they finish.
//
// When the coordinator has no DiskStore the network body is buffered in
// memory and decoded directly.
package engine
