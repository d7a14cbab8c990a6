package transport

import (
	"sync"
	"time"
)

// repeatingTimer is the periodic half of the monotonic timer facility
// the transport depends on to schedule and cancel one-shot and periodic
// callbacks. It is realized with a plain time.Ticker and a goroutine per
// timer — wasteful for a connection with many in-flight retries, but a
// single timer wheel scanned by the connection's own goroutine would
// work equally well and isn't required here.
type repeatingTimer struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func startRepeating(d time.Duration, fn func()) *repeatingTimer {
	rt := &repeatingTimer{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-rt.done:
				return
			case <-rt.ticker.C:
				fn()
			}
		}
	}()
	return rt
}

func (rt *repeatingTimer) stop() {
	if rt == nil {
		return
	}
	rt.once.Do(func() {
		rt.ticker.Stop()
		close(rt.done)
	})
}

// oneShotTimer is the one-shot half, wrapping time.Timer with an
// idempotent stop.
type oneShotTimer struct {
	timer *time.Timer
	once  sync.Once
}

func startOneShot(d time.Duration, fn func()) *oneShotTimer {
	ot := &oneShotTimer{}
	ot.timer = time.AfterFunc(d, fn)
	return ot
}

func (ot *oneShotTimer) stop() {
	if ot == nil {
		return
	}
	ot.once.Do(func() {
		ot.timer.Stop()
	})
}

func (ot *oneShotTimer) reset(d time.Duration) {
	if ot == nil {
		return
	}
	ot.timer.Reset(d)
}
