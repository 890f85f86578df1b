// Package resource bounds what the loader may consume while images are in
// flight.
//
// A [Controller] combines three independent limits:
//
//   - decoded image memory, reserved by the memory tier before it admits an
//     entry; reservations never block and fail with [ErrMemoryLimitExceeded]
//   - fetch slots, taken by a worker for the duration of an origin request
//   - IO throughput, charged by [RateLimitedReader] while a response body is
//     streamed into the disk cache
//
// Each limit is optional and a zero value disables it. A nil *Controller
// grants every request, so callers pass one around without nil checks.
//
// [MemoryBudget] reports how much memory the process may use: the Go soft
// memory limit when one is set, else physical memory. The memory tier
// defaults to an eighth of it:
//
//	capacity := resource.Fraction(resource.MemoryBudget(), 8)
package resource
