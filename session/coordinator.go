package session

import (
	"context"

	"github.com/charmbracelet/log"

	"meetscribe/stt"
)

// ConnectorFactory builds the two transcription engines for one session.
type ConnectorFactory interface {
	Primary(frames <-chan []byte) stt.Connector
	Fallback() stt.Connector
}

// Coordinator owns the single active connector and the failover policy:
// primary first, fallback on primary failure, never back. Every successful
// connector start records that engine in the usage set; the session label
// derives from starts, not from commits.
type Coordinator struct {
	logger  *log.Logger
	factory ConnectorFactory

	active   stt.Connector
	degraded bool
	used     map[stt.Engine]bool
}

func NewCoordinator(factory ConnectorFactory, logger *log.Logger) *Coordinator {
	return &Coordinator{
		logger:  logger,
		factory: factory,
		used:    map[stt.Engine]bool{},
	}
}

// Reset clears engine usage for a fresh session.
func (c *Coordinator) Reset() {
	c.active = nil
	c.degraded = false
	c.used = map[stt.Engine]bool{}
}

// StartPrimary attempts the primary engine; if it cannot start, the
// coordinator degrades to the fallback immediately.
func (c *Coordinator) StartPrimary(ctx context.Context, frames <-chan []byte) (stt.Connector, error) {
	conn := c.factory.Primary(frames)
	if err := conn.Start(ctx); err != nil {
		c.logger.Warn("primary engine failed to start, using fallback", "error", err)
		return c.Degrade(ctx)
	}

	c.active = conn
	c.used[conn.Engine()] = true
	c.logger.Info("engine started", "engine", conn.Engine())
	return conn, nil
}

// Degrade stops the active connector and starts the fallback. Once
// degraded, further degrade requests are no-ops: there is no path back to
// the primary within a session, and the fallback is never replaced.
func (c *Coordinator) Degrade(ctx context.Context) (stt.Connector, error) {
	if c.degraded {
		return nil, nil
	}
	c.degraded = true

	if c.active != nil {
		_ = c.active.Stop()
		c.active = nil
	}

	conn := c.factory.Fallback()
	if err := conn.Start(ctx); err != nil {
		return nil, err
	}

	c.active = conn
	c.used[conn.Engine()] = true
	c.logger.Info("engine started", "engine", conn.Engine())
	return conn, nil
}

// Active returns the connector currently allowed to deliver events.
func (c *Coordinator) Active() stt.Connector {
	return c.active
}

// StopAll disconnects the active connector. The usage set survives until
// Reset so the final label can still be computed.
func (c *Coordinator) StopAll() {
	if c.active != nil {
		_ = c.active.Stop()
		c.active = nil
	}
}

// Label reports the session engine label: hybrid when more than one
// engine was started, the sole member otherwise, empty when none ran.
func (c *Coordinator) Label() string {
	if len(c.used) > 1 {
		return "hybrid"
	}
	for engine := range c.used {
		return string(engine)
	}
	return ""
}
