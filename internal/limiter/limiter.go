// Package limiter provides an optional per-tunnel bandwidth cap for the
// byte bridge, grounded on the teacher's SharedLimiter but scoped to a
// single tunnel's manager socket rather than a whole bridge process.
package limiter

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

const numBuckets = 5 // 5 one-second buckets for a 5-second active-rate window

// throttledConn wraps a net.Conn and applies a bandwidth limit to both Read
// and Write, recording bytes transferred for GetActiveRate.
type throttledConn struct {
	net.Conn
	bucket *ratelimit.Bucket
	rl     *RateLimiter
}

func (t *throttledConn) Read(p []byte) (int, error) {
	n, err := t.Conn.Read(p)
	if n > 0 {
		t.bucket.Wait(int64(n))
		t.rl.recordBytes(int64(n))
	}
	return n, err
}

func (t *throttledConn) Write(p []byte) (int, error) {
	t.bucket.Wait(int64(len(p)))
	n, err := t.Conn.Write(p)
	if err == nil {
		t.rl.recordBytes(int64(n))
	}
	return n, err
}

type timeBucket struct {
	bytes     int64
	timestamp int64
}

// RateLimiter caps bytes/sec for one tunnel's bridges and tracks a rolling
// active-rate estimate for the status endpoint.
type RateLimiter struct {
	bucket     *ratelimit.Bucket
	maxRate    int64
	buckets    [numBuckets]timeBucket
	currentIdx int64
	lastRotate int64
	windowSize time.Duration
}

// New creates a RateLimiter capping traffic at bytesPerSec. bytesPerSec <= 0
// means unlimited (POST /open's rate_limit_bps omitted or zero).
func New(bytesPerSec int64) *RateLimiter {
	rl := &RateLimiter{
		maxRate:    bytesPerSec,
		windowSize: 5 * time.Second,
	}
	if bytesPerSec > 0 {
		rl.bucket = ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec)
	}
	now := time.Now().Unix()
	rl.lastRotate = now
	for i := range rl.buckets {
		atomic.StoreInt64(&rl.buckets[i].timestamp, now)
	}
	return rl
}

// Unlimited reports whether this limiter imposes no cap.
func (rl *RateLimiter) Unlimited() bool {
	return rl.bucket == nil
}

func (rl *RateLimiter) recordBytes(n int64) {
	now := time.Now().Unix()
	lastRotate := atomic.LoadInt64(&rl.lastRotate)
	if now > lastRotate && atomic.CompareAndSwapInt64(&rl.lastRotate, lastRotate, now) {
		nextIdx := (atomic.LoadInt64(&rl.currentIdx) + 1) % numBuckets
		atomic.StoreInt64(&rl.currentIdx, nextIdx)
		atomic.StoreInt64(&rl.buckets[nextIdx].bytes, 0)
		atomic.StoreInt64(&rl.buckets[nextIdx].timestamp, now)
	}
	idx := atomic.LoadInt64(&rl.currentIdx)
	atomic.AddInt64(&rl.buckets[idx].bytes, n)
}

// WrapConn wraps c so every Read/Write is bandwidth limited. If rl is
// unlimited, c is returned unchanged.
func (rl *RateLimiter) WrapConn(c net.Conn) net.Conn {
	if rl.Unlimited() {
		return c
	}
	return &throttledConn{Conn: c, bucket: rl.bucket, rl: rl}
}

// GetActiveRate returns the measured bytes/sec over the trailing window.
func (rl *RateLimiter) GetActiveRate() int64 {
	now := time.Now().Unix()
	cutoff := now - int64(rl.windowSize.Seconds())

	var totalBytes int64
	oldest := now
	for i := 0; i < numBuckets; i++ {
		ts := atomic.LoadInt64(&rl.buckets[i].timestamp)
		if ts >= cutoff {
			totalBytes += atomic.LoadInt64(&rl.buckets[i].bytes)
			if ts < oldest {
				oldest = ts
			}
		}
	}
	if d := now - oldest; d > 0 {
		return totalBytes / d
	}
	return 0
}

// MaxRate returns the configured bytes/sec cap, or 0 if unlimited.
func (rl *RateLimiter) MaxRate() int64 {
	if rl.Unlimited() {
		return 0
	}
	return rl.maxRate
}
