package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Minute, AlignToStart: true}, zerolog.Nop())

	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	next := s.nextTick(now)
	want := time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextTick = %v, want %v", next, want)
	}

	// Exactly on the boundary still schedules the next slot.
	next = s.nextTick(want)
	if !next.Equal(want.Add(time.Minute)) {
		t.Errorf("nextTick on boundary = %v, want %v", next, want.Add(time.Minute))
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: time.Minute}, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	if next := s.nextTick(now); !next.Equal(now.Add(time.Minute)) {
		t.Errorf("nextTick = %v, want %v", next, now.Add(time.Minute))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0
	err := s.Run(ctx, func(context.Context, time.Time) error {
		ticks++
		if ticks >= 3 {
			cancel()
		}
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if ticks < 3 {
		t.Errorf("ticks = %d, want at least 3", ticks)
	}
}

func TestRunContinuesPastTickErrors(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0
	_ = s.Run(ctx, func(context.Context, time.Time) error {
		ticks++
		if ticks >= 2 {
			cancel()
		}
		return errors.New("evaluation blew up")
	})

	if ticks < 2 {
		t.Errorf("ticks = %d, want loop to survive errors", ticks)
	}
}
