package scheduler_test

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telegrab/telegrab/internal/scheduler"
)

func newScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	s, err := scheduler.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return s
}

func TestAddEveryValidatesInput(t *testing.T) {
	t.Parallel()

	s := newScheduler(t)
	noop := func() {}

	testCases := []struct {
		name     string
		jobName  string
		interval time.Duration
		job      func()
	}{
		{name: "empty job name", jobName: "", interval: time.Minute, job: noop},
		{name: "zero interval", jobName: "sync", interval: 0, job: noop},
		{name: "negative interval", jobName: "sync", interval: -time.Second, job: noop},
		{name: "nil job", jobName: "sync", interval: time.Minute, job: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.AddEvery(tc.jobName, tc.interval, tc.job); err == nil {
				t.Error("AddEvery accepted invalid input")
			}
		})
	}
}

func TestSlowJobIsNotReentered(t *testing.T) {
	t.Parallel()

	s := newScheduler(t)
	var entered atomic.Int32
	release := make(chan struct{})

	// The job blocks far longer than its interval; only one run may be
	// in flight no matter how many triggers elapse.
	err := s.AddEvery("slow", 10*time.Millisecond, func() {
		entered.Add(1)
		<-release
	})
	if err != nil {
		t.Fatalf("AddEvery: %v", err)
	}
	s.Start()

	deadline := time.After(5 * time.Second)
	for entered.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never started")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(100 * time.Millisecond) // many intervals pass while blocked
	if got := entered.Load(); got != 1 {
		t.Errorf("job entered %d times while still running, want 1", got)
	}
	close(release)
}

func TestAddEveryRunsJob(t *testing.T) {
	t.Parallel()

	s := newScheduler(t)
	ran := make(chan struct{})
	var once sync.Once

	err := s.AddEvery("tick", 10*time.Millisecond, func() {
		once.Do(func() { close(ran) })
	})
	if err != nil {
		t.Fatalf("AddEvery: %v", err)
	}
	s.Start()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
}
