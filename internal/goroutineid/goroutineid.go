// Package goroutineid reports the id of the calling goroutine. The runner
// uses it to recognize requests issued from inside its own tick.
package goroutineid

import (
	"runtime"
	"sync"
)

var header = [...]byte{'g', 'o', 'r', 'o', 'u', 't', 'i', 'n', 'e', ' '}

var bufs = sync.Pool{New: func() any { b := make([]byte, 64); return &b }}

// Get returns the current goroutine's id, or 0 if the stack header could not
// be read.
func Get() int64 {
	bp := bufs.Get().(*[]byte)
	defer bufs.Put(bp)
	// only the first line is needed, a truncated trace is fine
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse reads the decimal id from a "goroutine N [status]:" header without
// allocating.
func parse(stack []byte) int64 {
	if len(stack) <= len(header) || [len(header)]byte(stack[:len(header)]) != header {
		return 0
	}
	var id int64
	for _, c := range stack[len(header):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
