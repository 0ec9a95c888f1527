package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/arbor/gc"
)

// ---------------------------------------------------------------------------
// PeriodicGC: collection on a timer
// ---------------------------------------------------------------------------

// DefaultGCInterval is the collection interval used when none is given.
const DefaultGCInterval = 30 * time.Second

// PeriodicGC runs full collections of a VM at a fixed interval. Long-running
// hosts (REPLs, services embedding a VM) use it so that scratch nodes and
// unreachable functions do not pile up between explicit collections.
type PeriodicGC struct {
	vm       *VM
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	sweepCount atomic.Uint64
	lastStats  atomic.Pointer[gc.Stats]
}

// NewPeriodicGC creates a stopped PeriodicGC. A non-positive interval means
// DefaultGCInterval.
func NewPeriodicGC(vm *VM, interval time.Duration) *PeriodicGC {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	p := &PeriodicGC{
		vm:       vm,
		interval: interval,
	}
	p.enabled.Store(true)
	return p
}

// StartPeriodicGC starts collecting every interval and returns the running
// collector. Calling it again returns the one already running.
func (vm *VM) StartPeriodicGC(interval time.Duration) *PeriodicGC {
	vm.mu.Lock()
	if vm.periodic == nil {
		vm.periodic = NewPeriodicGC(vm, interval)
	}
	p := vm.periodic
	vm.mu.Unlock()
	p.Start()
	return p
}

// Start begins the collection goroutine. It is safe to call Start multiple
// times; only one loop runs.
func (p *PeriodicGC) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stop != nil {
		return
	}

	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})

	// The goroutine gets its own copies; Stop nils the fields.
	stopCh := p.stop
	stoppedCh := p.stopped
	go p.loop(stopCh, stoppedCh)
	log.Debugf("periodic collection every %s", p.interval)
}

// Stop halts the goroutine and waits for it to finish. It is safe to call
// Stop multiple times or on a PeriodicGC that was never started.
func (p *PeriodicGC) Stop() {
	p.mu.Lock()
	stopCh := p.stop
	stoppedCh := p.stopped
	p.stop = nil
	p.stopped = nil
	p.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// Running reports whether the goroutine is running.
func (p *PeriodicGC) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// SetEnabled enables or disables collection. When disabled the goroutine
// keeps ticking but skips collections.
func (p *PeriodicGC) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

func (p *PeriodicGC) IsEnabled() bool {
	return p.enabled.Load()
}

func (p *PeriodicGC) Interval() time.Duration {
	return p.interval
}

// SweepCount returns the number of collections this PeriodicGC has run.
func (p *PeriodicGC) SweepCount() uint64 {
	return p.sweepCount.Load()
}

// LastStats returns the statistics of the most recent collection, or nil.
func (p *PeriodicGC) LastStats() *gc.Stats {
	return p.lastStats.Load()
}

// SweepNow collects immediately regardless of the timer.
func (p *PeriodicGC) SweepNow() *gc.Stats {
	return p.sweep()
}

func (p *PeriodicGC) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if p.enabled.Load() {
				p.sweep()
			}
		}
	}
}

func (p *PeriodicGC) sweep() *gc.Stats {
	stats := p.vm.Collect()
	p.sweepCount.Add(1)
	p.lastStats.Store(&stats)
	return &stats
}
