// Package recognizer drives a locally available continuous speech
// recognizer as the fallback transcription engine.
package recognizer

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"meetscribe/stt"
)

// Run is one active recognition pass. Results carries final segments only;
// Done fires once when the pass ends, with nil for a natural end of the
// utterance stream.
type Run interface {
	Results() <-chan string
	Done() <-chan error
	Stop()
}

// Platform abstracts whichever continuous recognizer the host provides.
// The recognizer owns its own audio input.
type Platform interface {
	Start(ctx context.Context, language string) (Run, error)
}

// Continuous wraps a Platform with auto-restart-on-end semantics: while
// the session is active, a naturally ended pass is restarted best-effort.
type Continuous struct {
	platform Platform
	language string
	logger   *log.Logger

	events chan stt.Event

	mu      sync.Mutex
	run     Run
	stopped bool
}

func NewContinuous(platform Platform, language string, logger *log.Logger) *Continuous {
	return &Continuous{
		platform: platform,
		language: language,
		logger:   logger,
		events:   make(chan stt.Event),
	}
}

func (c *Continuous) Engine() stt.Engine {
	return stt.EngineFallback
}

func (c *Continuous) Events() <-chan stt.Event {
	return c.events
}

// Start begins the first recognition pass. An unavailable platform is
// reported to the caller once; there is no retry.
func (c *Continuous) Start(ctx context.Context) error {
	run, err := c.platform.Start(ctx, c.language)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.run = run
	c.mu.Unlock()

	go c.supervise(ctx, run)
	return nil
}

// supervise forwards final segments and restarts ended passes until Stop.
func (c *Continuous) supervise(ctx context.Context, run Run) {
	defer close(c.events)

	for {
		results, done := run.Results(), run.Done()
	pass:
		for {
			select {
			case text, ok := <-results:
				if !ok {
					results = nil
					continue
				}
				if c.isStopped() {
					return
				}
				c.logger.Info("hear", "txt", text)
				c.events <- stt.Event{Kind: stt.EventCommit, Text: text}
			case err := <-done:
				if err != nil {
					c.logger.Warn("recognizer pass failed", "error", err)
				}
				// The pass closes results before signaling done, so
				// finals can still be buffered here. Forward them all
				// before restarting.
				if !c.drainResults(results) {
					return
				}
				break pass
			}
		}

		if c.isStopped() {
			return
		}

		// Restart failures are swallowed; the session keeps whatever
		// transcript it already has.
		next, err := c.platform.Start(ctx, c.language)
		if err != nil {
			c.logger.Warn("recognizer restart failed", "error", err)
			return
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			next.Stop()
			return
		}
		c.run = next
		c.mu.Unlock()
		run = next
	}
}

// drainResults forwards whatever finals remain on a closed results
// channel. Returns false when stopped mid-drain.
func (c *Continuous) drainResults(results <-chan string) bool {
	if results == nil {
		return true
	}
	for text := range results {
		if c.isStopped() {
			return false
		}
		c.logger.Info("hear", "txt", text)
		c.events <- stt.Event{Kind: stt.EventCommit, Text: text}
	}
	return true
}

// Stop ends the active pass and prevents further restarts. Idempotent.
func (c *Continuous) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	run := c.run
	c.mu.Unlock()

	if run != nil {
		run.Stop()
	}
	return nil
}

func (c *Continuous) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
