package probe

import (
	"sync"

	"github.com/probelab/verve/pkg/flow"
)

// demandController tracks outstanding requested items and issues
// flow-control requests to the live subscription. Requests are protocol
// signals only: a request step is satisfied immediately, no signal comes
// back.
type demandController struct {
	mu          sync.Mutex
	sub         flow.Subscription
	outstanding int64
	unbounded   bool
}

func (d *demandController) attach(sub flow.Subscription) {
	d.mu.Lock()
	d.sub = sub
	d.mu.Unlock()
}

// request issues a flow-control request of n and grows the outstanding
// count. flow.Unbounded switches accounting off.
func (d *demandController) request(n int64) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	sub := d.sub
	if n == flow.Unbounded {
		d.unbounded = true
	} else if d.outstanding += n; d.outstanding < 0 {
		d.unbounded = true
	}
	d.mu.Unlock()
	if sub != nil {
		sub.Request(n)
	}
}

// consume records delivery of one item.
func (d *demandController) consume() {
	d.mu.Lock()
	if !d.unbounded && d.outstanding > 0 {
		d.outstanding--
	}
	d.mu.Unlock()
}

// pending reports the outstanding demand for diagnostics; -1 means
// unbounded.
func (d *demandController) pending() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unbounded {
		return -1
	}
	return d.outstanding
}
