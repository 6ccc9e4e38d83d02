package fetch

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Gate paces and bounds outbound requests per remote host. One Gate is
// shared by every collector in a process so that feed, API and web
// collectors pointing at the same domain draw from one budget.
type Gate struct {
	mu      sync.Mutex
	hosts   map[string]*hostGate
	limit   rate.Limit
	burst   int
	perHost int
}

type hostGate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewGate creates a gate allowing rps requests per second (burst b) and at
// most perHost concurrent requests to each host. rps <= 0 disables pacing.
func NewGate(rps float64, b, perHost int) *Gate {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if b < 1 {
		b = 1
	}
	if perHost < 1 {
		perHost = 1
	}
	return &Gate{
		hosts:   make(map[string]*hostGate),
		limit:   limit,
		burst:   b,
		perHost: perHost,
	}
}

func (g *Gate) host(h string) *hostGate {
	h = strings.ToLower(h)
	g.mu.Lock()
	defer g.mu.Unlock()
	hg, ok := g.hosts[h]
	if !ok {
		hg = &hostGate{
			limiter: rate.NewLimiter(g.limit, g.burst),
			slots:   make(chan struct{}, g.perHost),
		}
		g.hosts[h] = hg
	}
	return hg
}

// Acquire blocks until a concurrency slot for host is free. The returned
// release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, host string) (func(), error) {
	hg := g.host(host)
	select {
	case hg.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-hg.slots }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until the rate limiter for host allows one request.
func (g *Gate) Wait(ctx context.Context, host string) error {
	return g.host(host).limiter.Wait(ctx)
}

// InFlight returns the number of held slots for host.
func (g *Gate) InFlight(host string) int {
	return len(g.host(host).slots)
}
