package recognizer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"meetscribe/stt"
)

type fakeRun struct {
	results chan string
	done    chan error
	stopped bool
	mu      sync.Mutex
}

func newFakeRun() *fakeRun {
	return &fakeRun{
		results: make(chan string, 8),
		done:    make(chan error, 1),
	}
}

func (r *fakeRun) Results() <-chan string { return r.results }
func (r *fakeRun) Done() <-chan error     { return r.done }

func (r *fakeRun) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}

func (r *fakeRun) end() {
	close(r.results)
	r.done <- nil
}

type fakePlatform struct {
	mu       sync.Mutex
	runs     []*fakeRun
	startErr error
	failFrom int
}

func (p *fakePlatform) Start(_ context.Context, language string) (Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil && len(p.runs) >= p.failFrom {
		return nil, p.startErr
	}
	run := newFakeRun()
	p.runs = append(p.runs, run)
	return run, nil
}

func (p *fakePlatform) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runs)
}

func (p *fakePlatform) run(i int) *fakeRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[i]
}

func nextEvent(t *testing.T, events <-chan stt.Event) stt.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return stt.Event{}
	}
}

func TestForwardsFinalSegments(t *testing.T) {
	platform := &fakePlatform{}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	platform.run(0).results <- "erster Satz"
	ev := nextEvent(t, conn.Events())
	if ev.Kind != stt.EventCommit || ev.Text != "erster Satz" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if conn.Engine() != stt.EngineFallback {
		t.Errorf("expected fallback engine, got %s", conn.Engine())
	}
}

func TestRestartsOnNaturalEnd(t *testing.T) {
	platform := &fakePlatform{}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	platform.run(0).end()

	deadline := time.Now().Add(2 * time.Second)
	for platform.startCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("recognizer was not restarted after natural end")
		}
		time.Sleep(5 * time.Millisecond)
	}

	platform.run(1).results <- "nach dem Neustart"
	ev := nextEvent(t, conn.Events())
	if ev.Text != "nach dem Neustart" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestBufferedSegmentsSurviveNaturalEnd(t *testing.T) {
	platform := &fakePlatform{}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	// End the pass while finals are still buffered; none may be lost
	// across the restart boundary.
	run := platform.run(0)
	run.results <- "vorletzter Satz"
	run.results <- "letzter Satz"
	run.end()

	for _, want := range []string{"vorletzter Satz", "letzter Satz"} {
		ev := nextEvent(t, conn.Events())
		if ev.Kind != stt.EventCommit || ev.Text != want {
			t.Errorf("expected commit %q, got %+v", want, ev)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for platform.startCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("recognizer was not restarted after natural end")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRestartFailureIsSwallowed(t *testing.T) {
	platform := &fakePlatform{startErr: errors.New("engine gone"), failFrom: 1}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	platform.run(0).end()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Error("expected events channel to close after failed restart")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
	if platform.startCount() != 1 {
		t.Errorf("expected exactly one successful start, got %d", platform.startCount())
	}
}

func TestUnavailablePlatformReportedOnce(t *testing.T) {
	platform := &fakePlatform{startErr: errors.New("unsupported"), failFrom: 0}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail")
	}
	if platform.startCount() != 0 {
		t.Errorf("expected no runs, got %d", platform.startCount())
	}
}

func TestStopPreventsRestart(t *testing.T) {
	platform := &fakePlatform{}
	conn := NewContinuous(platform, "de-DE", log.New(io.Discard))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := conn.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	platform.run(0).end()

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Error("expected events channel to close after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
	if platform.startCount() != 1 {
		t.Errorf("expected no restart after stop, got %d starts", platform.startCount())
	}
}
