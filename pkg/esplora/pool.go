package esplora

import (
	"sync"
	"time"
)

// Endpoint is an Esplora base URL with health tracking.
type Endpoint struct {
	URL         string
	Healthy     bool
	LastError   error
	LastFailure time.Time
	LastSuccess time.Time
	Latency     time.Duration
}

// Pool hands out base URLs round-robin, skipping endpoints that recently
// failed at the transport level.
type Pool struct {
	endpoints []*Endpoint
	mu        sync.Mutex
	idx       int
}

// NewPool creates a pool over urls, all initially healthy.
func NewPool(urls []string) *Pool {
	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{
			URL:     url,
			Healthy: true,
		}
	}
	return &Pool{endpoints: endpoints}
}

// Next returns the next healthy endpoint's URL. When every endpoint is
// unhealthy the one that failed longest ago is returned so the pool can
// recover.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return "", ErrNoEndpoints
	}

	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.idx + i) % len(p.endpoints)
		ep := p.endpoints[idx]
		if ep.Healthy {
			p.idx = (idx + 1) % len(p.endpoints)
			return ep.URL, nil
		}
	}

	oldest := p.endpoints[0]
	for _, ep := range p.endpoints[1:] {
		if ep.LastFailure.Before(oldest.LastFailure) {
			oldest = ep
		}
	}
	return oldest.URL, nil
}

// MarkUnhealthy records a failed request against url.
func (p *Pool) MarkUnhealthy(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(url); ep != nil {
		ep.Healthy = false
		ep.LastError = err
		ep.LastFailure = time.Now()
	}
}

// MarkHealthy records a successful request against url.
func (p *Pool) MarkHealthy(url string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ep := p.find(url); ep != nil {
		ep.Healthy = true
		ep.LastError = nil
		ep.LastSuccess = time.Now()
		ep.Latency = latency
	}
}

// Len returns the number of endpoints.
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// HealthyCount returns the number of healthy endpoints.
func (p *Pool) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := 0
	for _, ep := range p.endpoints {
		if ep.Healthy {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of every endpoint's state.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

func (p *Pool) find(url string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
