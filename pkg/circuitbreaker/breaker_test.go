package circuitbreaker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	errDown     = errors.New("connection refused")
	errBusiness = errors.New("insufficient stock")
)

func newTestBreaker() *Breaker {
	cfg := Config{ConsecutiveFailures: 2, OpenTimeout: time.Minute, HalfOpenRequests: 1}
	isFailure := func(err error) bool { return !errors.Is(err, errBusiness) }
	return New("catalog", cfg, isFailure, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker()

	assert.ErrorIs(t, b.Do(func() error { return errDown }), errDown)
	assert.ErrorIs(t, b.Do(func() error { return errDown }), errDown)

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
	assert.Equal(t, "open", b.State())
}

func TestBreaker_BusinessErrorsDoNotTrip(t *testing.T) {
	b := newTestBreaker()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errBusiness }), errBusiness)
	}
	assert.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}
