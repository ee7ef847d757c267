package jobs

import "sync/atomic"

// Gate is a one-way latch. A nil *Gate is open.
type Gate struct {
	open atomic.Bool
}

func (g *Gate) Open() {
	if g != nil {
		g.open.Store(true)
	}
}

func (g *Gate) IsOpen() bool {
	return g == nil || g.open.Load()
}
