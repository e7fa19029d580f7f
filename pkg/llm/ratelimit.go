// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces outbound requests to one vendor. All clients for a
// provider name share a limiter, so concurrent turns across owners cannot
// stampede the vendor's API.
type RateLimiter struct {
	mu       sync.Mutex
	minDelay time.Duration
	last     time.Time
}

// NewRateLimiter creates a limiter enforcing a minimum delay between
// requests.
func NewRateLimiter(minDelay time.Duration) *RateLimiter {
	return &RateLimiter{minDelay: minDelay}
}

// Wait blocks until the next request slot or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	next := r.last.Add(r.minDelay)
	if next.Before(now) {
		next = now
	}
	r.last = next
	r.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// defaultMinDelay keeps request spacing conservative across vendors.
const defaultMinDelay = 200 * time.Millisecond

// limiterPool hands out one shared limiter per provider name.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

func newLimiterPool() *limiterPool {
	return &limiterPool{limiters: map[string]*RateLimiter{}}
}

func (p *limiterPool) get(provider string) *RateLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.limiters[provider]; ok {
		return l
	}
	l := NewRateLimiter(defaultMinDelay)
	p.limiters[provider] = l
	return l
}
