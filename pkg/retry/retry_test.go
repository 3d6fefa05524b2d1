package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func fastConfig(maxAttempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		cfg          Config
		failures     int
		failWith     error
		wantErr      error
		wantAttempts int
	}{
		{"first attempt succeeds", fastConfig(3), 0, nil, nil, 1},
		{"succeeds after retries", fastConfig(3), 2, errTransient, nil, 3},
		{"max attempts exceeded", fastConfig(2), 10, errTransient, errTransient, 3},
		{"disabled runs once", Config{Enabled: false}, 10, errTransient, errTransient, 1},
		{
			name:         "non-retryable stops immediately",
			cfg:          func() Config { c := fastConfig(5); c.NonRetryableErrors = []error{errFatal}; return c }(),
			failures:     10,
			failWith:     errFatal,
			wantErr:      errFatal,
			wantAttempts: 1,
		},
		{
			name:         "sentinel filter does not catch other errors",
			cfg:          func() Config { c := fastConfig(2); c.NonRetryableErrors = []error{errFatal}; return c }(),
			failures:     10,
			failWith:     errTransient,
			wantErr:      errTransient,
			wantAttempts: 3,
		},
		{
			name:         "only listed errors retried",
			cfg:          func() Config { c := fastConfig(5); c.RetryableErrors = []error{errTransient}; return c }(),
			failures:     10,
			failWith:     errFatal,
			wantErr:      errFatal,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), tt.cfg, func() error {
				attempts++
				if attempts <= tt.failures {
					return tt.failWith
				}
				return nil
			})

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantAttempts, attempts)
		})
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := Retry(ctx, cfg, func() error {
		attempts++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_ReturnsResult(t *testing.T) {
	var retries []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		retries = append(retries, attempt)
	}

	attempts := 0
	got, err := Do(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTransient
		}
		return "uploaded", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "uploaded", got)
	assert.Equal(t, []int{1}, retries)
}

func TestCalculateDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(cfg, 2))
	assert.Equal(t, time.Second, calculateDelay(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(cfg, 0)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
