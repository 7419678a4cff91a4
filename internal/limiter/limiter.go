package limiter

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	jitterMin = 50 * time.Millisecond
	jitterMax = 200 * time.Millisecond
)

// Settings configures per-host politeness limiting.
type Settings struct {
	// MinInterval is the minimum spacing between two requests to the same
	// host. Zero or negative disables interval limiting.
	MinInterval time.Duration
	// BucketRequests/BucketWindow optionally layer a token bucket on top of
	// the interval spacing. Both must be positive to take effect.
	BucketRequests int
	BucketWindow   time.Duration
}

// HostLimiter enforces a minimum inter-request interval per host, with a
// small random jitter on waits so that workers hitting the same host do not
// align into bursts. All per-host state lives on the instance; lifetime is
// the process run.
type HostLimiter struct {
	minInterval time.Duration

	bucketEnabled bool
	bucketEvery   time.Duration
	bucketBurst   int

	mu      sync.Mutex
	next    map[string]time.Time
	buckets map[string]*rate.Limiter

	// now, sleep, and jitter are swappable for tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// New creates a limiter from settings.
func New(s Settings) *HostLimiter {
	l := &HostLimiter{
		minInterval: s.MinInterval,
		now:         time.Now,
		sleep:       sleepContext,
		jitter:      randomJitter,
	}
	if s.MinInterval > 0 {
		l.next = make(map[string]time.Time)
	}
	if s.BucketRequests > 0 && s.BucketWindow > 0 {
		every := s.BucketWindow / time.Duration(s.BucketRequests)
		if every <= 0 {
			every = time.Millisecond
		}
		l.bucketEnabled = true
		l.bucketEvery = every
		l.bucketBurst = s.BucketRequests
		l.buckets = make(map[string]*rate.Limiter)
	}
	return l
}

// Wait blocks until it is safe to issue the next request to host. The
// read-compute-update sequence on the per-host timestamp happens under the
// limiter mutex: each caller reserves its own dispatch slot, so two workers
// racing for one host can never compute a wait against a stale timestamp.
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" {
		return nil
	}
	if l.minInterval <= 0 && !l.bucketEnabled {
		return nil
	}
	host = strings.ToLower(host)

	var wait time.Duration
	var bucket *rate.Limiter

	l.mu.Lock()
	if l.minInterval > 0 {
		now := l.now()
		target := now
		if earliest, ok := l.next[host]; ok && earliest.After(now) {
			target = earliest.Add(l.jitter())
			wait = target.Sub(now)
		}
		l.next[host] = target.Add(l.minInterval)
	}
	if l.bucketEnabled {
		bucket = l.ensureBucketLocked(host)
	}
	l.mu.Unlock()

	if wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
	if bucket != nil {
		if err := bucket.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *HostLimiter) ensureBucketLocked(host string) *rate.Limiter {
	if bucket, ok := l.buckets[host]; ok {
		return bucket
	}
	bucket := rate.NewLimiter(rate.Every(l.bucketEvery), l.bucketBurst)
	l.buckets[host] = bucket
	return bucket
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randomJitter() time.Duration {
	return jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)))
}
