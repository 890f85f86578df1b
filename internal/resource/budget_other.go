//go:build !linux

package resource

func physicalMemory() int64 { return 0 }
