package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRunnerFiresImmediatelyOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	r, err := NewRunner(time.Hour, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	defer func() { <-r.Stop().Done() }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not fire on start")
	}
}

func TestRunnerSurvivesErrorsAndPanics(t *testing.T) {
	calls := make(chan int, 3)
	n := 0
	r, err := NewRunner(time.Hour, func(ctx context.Context) error {
		n++
		calls <- n
		switch n {
		case 1:
			return errors.New("boom")
		case 2:
			panic("worse boom")
		}
		return nil
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	// drive runOnce directly; the schedule path uses the same method
	r.runOnce()
	r.runOnce()
	r.runOnce()

	for want := 1; want <= 3; want++ {
		select {
		case got := <-calls:
			if got != want {
				t.Fatalf("call %d, want %d", got, want)
			}
		default:
			t.Fatalf("run %d never happened", want)
		}
	}
}

func TestRunnerRejectsBadInterval(t *testing.T) {
	if _, err := NewRunner(0, func(ctx context.Context) error { return nil }, zap.NewNop()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
