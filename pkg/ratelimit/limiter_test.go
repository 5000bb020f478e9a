package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sgerrors "github.com/exploopio/scopeguard/pkg/errors"
	"github.com/exploopio/scopeguard/pkg/metrics"
)

func TestNilLimiterNeverBlocks(t *testing.T) {
	var l *Limiter
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire on nil limiter: %v", err)
	}
	release()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on nil limiter: %v", err)
	}
}

func TestAcquire_BurstThenTimeout(t *testing.T) {
	l := New(Config{RatePerMinute: 1, Burst: 1, MaxConcurrency: 2})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first token should be immediate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("second token within a minute should not be granted before the deadline")
	}
	if !sgerrors.IsTimeoutError(err) {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestAcquire_Cancelled(t *testing.T) {
	l := New(Config{RatePerMinute: 1, Burst: 1, MaxConcurrency: 1})
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Acquire(ctx)
	if sgerrors.GetKind(err) != sgerrors.KindRateLimit {
		t.Errorf("expected rate limit error, got %v", err)
	}
}

func TestAcquire_BoundsConcurrency(t *testing.T) {
	l := New(Config{RatePerMinute: 60000, Burst: 100, MaxConcurrency: 2})

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&inFlight, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestAcquire_RecordsWait(t *testing.T) {
	m := metrics.NewInMemoryCollector()
	l := New(Config{RatePerMinute: 600, Burst: 1, Metrics: m})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(m.GetHistogram(metrics.RateLimitWait.Name)); got != 1 {
		t.Errorf("wait observations = %d, want 1", got)
	}
}
