package sched

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// gid returns the calling goroutine's id, parsed from the stack header.
// Used only to recognize re-entry into the critical region from the
// goroutine that is currently delivering an interrupt.
func gid() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	n := bytes.IndexByte(buf, ' ')
	if n < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:n]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
