// Package ratelimit paces outbound REST calls with token buckets: one global
// budget plus named buckets for endpoint groups with their own limits.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limit is a request budget of Requests per Period. Requests is also the burst.
type Limit struct {
	Requests int
	Period   time.Duration
}

func (l Limit) limiter() *rate.Limiter {
	return rate.NewLimiter(l.rate(), l.Requests)
}

func (l Limit) rate() rate.Limit {
	if l.Period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(l.Requests) / l.Period.Seconds())
}

// RateLimiter combines a global limiter with lazily created named buckets.
// A bucket call consumes from both the bucket and the global budget.
type RateLimiter struct {
	global *rate.Limiter
	limit  Limit

	mu      sync.Mutex
	buckets map[string]*rate.Limiter

	metrics *Metrics
}

// Metrics tracks limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketCount     atomic.Int32
}

// New creates a RateLimiter allowing requests per period globally. Buckets
// created on demand start with the same limit.
func New(requests int, period time.Duration) *RateLimiter {
	limit := Limit{Requests: requests, Period: period}
	return &RateLimiter{
		global:  limit.limiter(),
		limit:   limit,
		buckets: make(map[string]*rate.Limiter),
		metrics: &Metrics{},
	}
}

// Wait blocks until the global budget allows a request or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.record(r.global.Wait(ctx) == nil, ctx.Err())
}

// WaitBucket blocks until both the named bucket and the global budget allow a
// request or ctx is done.
func (r *RateLimiter) WaitBucket(ctx context.Context, bucket string) error {
	if err := r.bucket(bucket).Wait(ctx); err != nil {
		return r.record(false, err)
	}
	err := r.global.Wait(ctx)
	return r.record(err == nil, err)
}

// Allow reports whether the global budget permits a request now.
func (r *RateLimiter) Allow() bool {
	allowed := r.global.Allow()
	_ = r.record(allowed, nil)
	return allowed
}

// AllowBucket reports whether the named bucket and the global budget permit a
// request now. A denied call consumes nothing from the global budget.
func (r *RateLimiter) AllowBucket(bucket string) bool {
	allowed := r.bucket(bucket).Allow() && r.global.Allow()
	_ = r.record(allowed, nil)
	return allowed
}

func (r *RateLimiter) record(allowed bool, err error) error {
	r.metrics.totalRequests.Add(1)
	if allowed {
		r.metrics.allowedRequests.Add(1)
		return nil
	}
	r.metrics.deniedRequests.Add(1)
	return err
}

func (r *RateLimiter) bucket(name string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.buckets[name]; ok {
		return l
	}
	l := r.limit.limiter()
	r.buckets[name] = l
	r.metrics.bucketCount.Add(1)
	return l
}

// SetLimit updates the global limit.
func (r *RateLimiter) SetLimit(requests int, period time.Duration) {
	limit := Limit{Requests: requests, Period: period}
	r.global.SetLimit(limit.rate())
	r.global.SetBurst(requests)
}

// SetBucketLimit sets the limit of a named bucket, creating it if needed.
func (r *RateLimiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	limit := Limit{Requests: requests, Period: period}
	l := r.bucket(bucket)
	l.SetLimit(limit.rate())
	l.SetBurst(requests)
}

// Metrics returns a snapshot of the limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of the limiter statistics.
type MetricsSnapshot struct {
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	BucketCount     int32
}
