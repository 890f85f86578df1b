// Package journal implements the append-only index log of the disk cache.
//
// Every committed blob, removal and read is appended as a CRC32C-framed
// [Record]. On startup the disk cache calls [Replay] to rebuild its LRU
// order and size accounting, so capacity enforcement survives restarts.
//
// # File Format
//
//	[Magic "IMGCJRNL": 8 bytes] [Version: 4 bytes]
//	[Record]...
//
// A record cut short by a crash is a torn tail: Replay stops before it and
// reports the valid length so the caller can truncate. Any other validation
// failure is reported as [ErrCorrupt].
//
// Redundant records accumulate over time; callers compact the log with
// [Rewrite], which stages the new file and renames it into place.
package journal
