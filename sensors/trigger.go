package sensors

import "sync/atomic"

// Latch is a one-bit mailbox: Set may be called from any goroutine, Take
// reports whether it was set and clears it in the same atomic step. Any
// number of Sets between two Takes count once.
type Latch struct {
	armed atomic.Bool
}

func (l *Latch) Set() { l.armed.Store(true) }

func (l *Latch) Take() bool { return l.armed.CompareAndSwap(true, false) }

func (l *Latch) Armed() bool { return l.armed.Load() }
