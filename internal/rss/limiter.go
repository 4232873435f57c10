package rss

import (
	"context"
	"net/url"
	"sync"
)

// DefaultPerHost limits parallel requests to any single host.
const DefaultPerHost = 4

// hostLimiter bounds concurrent requests per host. Different hosts never wait
// on each other.
type hostLimiter struct {
	mu         sync.Mutex
	perHost    int
	semaphores map[string]chan struct{}
}

func newHostLimiter(perHost int) *hostLimiter {
	if perHost <= 0 {
		perHost = DefaultPerHost
	}
	return &hostLimiter{
		perHost:    perHost,
		semaphores: make(map[string]chan struct{}),
	}
}

// acquire gets a slot for the host, blocking until one frees up or ctx ends.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, hl.perHost)
		hl.semaphores[host] = sem
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release returns a slot for the host.
func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	sem := hl.semaphores[host]
	hl.mu.Unlock()
	if sem != nil {
		<-sem
	}
}

// hostOf gets the host from a URL.
func hostOf(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL // fallback to full URL
	}
	return u.Host
}
