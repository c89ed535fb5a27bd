package zktree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
)

func TestBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxRetries: 5, MaxDelay: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{9, time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxRetries: 1, Jitter: 0.1}
	for i := 0; i < 100; i++ {
		got := p.Backoff(1)
		if got < 900*time.Millisecond || got > 1100*time.Millisecond {
			t.Fatalf("Backoff(1) = %v, outside 10%% jitter", got)
		}
	}
}

func TestRetryDo(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Millisecond, MaxRetries: 3}

	t.Run("retries connection faults", func(t *testing.T) {
		calls, retries := 0, 0
		err := p.do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return zk.ErrConnectionClosed
			}
			return nil
		}, func(int, error) { retries++ })
		if err != nil {
			t.Fatalf("do() = %v", err)
		}
		if calls != 3 || retries != 2 {
			t.Errorf("calls = %d, retries = %d, want 3 and 2", calls, retries)
		}
	})

	t.Run("gives up after budget", func(t *testing.T) {
		calls := 0
		err := p.do(context.Background(), func() error {
			calls++
			return zk.ErrNoServer
		}, nil)
		if !errors.Is(err, zk.ErrNoServer) {
			t.Fatalf("do() = %v, want ErrNoServer", err)
		}
		if calls != 4 {
			t.Errorf("calls = %d, want 4", calls)
		}
	})

	t.Run("does not retry logical errors", func(t *testing.T) {
		calls := 0
		err := p.do(context.Background(), func() error {
			calls++
			return zk.ErrNoNode
		}, nil)
		if !errors.Is(err, zk.ErrNoNode) || calls != 1 {
			t.Errorf("do() = %v after %d calls, want ErrNoNode after 1", err, calls)
		}
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{BaseDelay: time.Hour, MaxRetries: 3}
		err := slow.do(ctx, func() error { return zk.ErrSessionExpired },
			func(int, error) { cancel() })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("do() = %v, want context.Canceled", err)
		}
	})
}
