package workers

import (
	"time"
)

// Metrics returns the current pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	p.wg.RLock()
	defer p.wg.RUnlock()
	return *p.stats
}

func (p *WorkerPool) incrementSubmitted() {
	p.wg.Lock()
	defer p.wg.Unlock()
	p.stats.TasksSubmitted++
}

func (p *WorkerPool) incrementCompleted() {
	p.wg.Lock()
	defer p.wg.Unlock()
	p.stats.TasksCompleted++
}

func (p *WorkerPool) incrementFailed() {
	p.wg.Lock()
	defer p.wg.Unlock()
	p.stats.TasksFailed++
}

func (p *WorkerPool) incrementCancelled() {
	p.wg.Lock()
	defer p.wg.Unlock()
	p.stats.TasksCancelled++
}

func (p *WorkerPool) recordDuration(d time.Duration) {
	p.wg.Lock()
	defer p.wg.Unlock()
	p.stats.TotalDuration += d
}
