// Package fs is the file system seam under the disk cache and its journal.
//
// Production code uses [Default], which forwards to package os. Tests swap
// in a [FaultyFS] to break individual operations on matching paths, for
// example a blob commit whose final rename fails:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".blob", fs.Fault{Ops: fs.OpRename})
//
// Calls take no context.Context: local file syscalls cannot be interrupted.
package fs
