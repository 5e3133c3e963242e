package gateway

import (
	"sync"
	"time"
)

// limiter is a small per-IP fixed-window rate limiter. Stale client entries
// are swept periodically so the map cannot grow without bound.
type limiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once

	requestsPerMinute int
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newLimiter(requestsPerMinute int) *limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	l := &limiter{
		clients:           make(map[string]*clientInfo),
		stopCleanup:       make(chan struct{}),
		requestsPerMinute: requestsPerMinute,
	}
	go l.startCleanup()
	return l
}

func (l *limiter) allow(clientIP string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	client, exists := l.clients[clientIP]

	if !exists {
		l.clients[clientIP] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	client.requests++
	client.lastRequest = now
	return client.requests <= l.requestsPerMinute
}

func (l *limiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStale()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *limiter) cleanupStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, client := range l.clients {
		if client.lastRequest.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

func (l *limiter) stop() {
	l.shutdownOnce.Do(func() {
		close(l.stopCleanup)
	})
}
