package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"meetscribe/etc"
	"meetscribe/stt"
)

// ErrNoActor means no authenticated actor/tenant context was available.
var ErrNoActor = errors.New("no authenticated actor")

// DefaultTitle is used when consent is confirmed without a title.
const DefaultTitle = "Meeting"

const (
	DefaultMaxDurationSec = 5400 // 90 minutes
	DefaultCountdownSec   = 180  // 3 minutes
)

// Actor identifies who is recording. Identity itself is an external
// collaborator; the controller only requires that one is present.
type Actor struct {
	UserID   string
	TenantID string
}

// AudioSource is an acquired microphone stream.
type AudioSource interface {
	Frames() <-chan []byte
	Release()
}

type Microphone interface {
	Acquire() (AudioSource, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, tenantID, userID, title string, startedAt time.Time) (string, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	FinalizeSession(ctx context.Context, id string, durationSec int, engine string, endedAt time.Time) error
	MarkSessionReady(ctx context.Context, id string) error
	MarkSessionIdle(ctx context.Context, id string) error
}

type Summarizer interface {
	Summarize(ctx context.Context, sessionID string) error
}

type Persister interface {
	Reset(sessionID string)
	SaveChunk(sessionID string, text string, engine stt.Engine)
}

type Config struct {
	MaxDurationSec int
	CountdownSec   int
}

func (c Config) withDefaults() Config {
	if c.MaxDurationSec <= 0 {
		c.MaxDurationSec = DefaultMaxDurationSec
	}
	if c.CountdownSec <= 0 {
		c.CountdownSec = DefaultCountdownSec
	}
	return c
}

// Session is the externally observable state of one recording attempt.
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          State      `json:"status"`
	StartedAt       *time.Time `json:"startedAt"`
	DurationSec     int        `json:"durationSec"`
	SttEngine       *string    `json:"sttEngine"`
	CountdownSec    int        `json:"countdownSec"`
	ResultSessionID string     `json:"resultSessionId"`
}

type command int

const (
	cmdRequestConsent command = iota + 1
	cmdStart
	cmdSetTitle
	cmdTriggerCountdown
	cmdResume
	cmdStop
	cmdReset
)

type loopEvent struct {
	cmd   command
	actor Actor
	title string
	reply chan error

	hasConnEv bool
	conn      stt.Connector
	connEv    stt.Event
}

type Deps struct {
	Store      SessionStore
	Persister  Persister
	Summarizer Summarizer
	Notifier   Notifier
	Microphone Microphone
	Connectors ConnectorFactory
	Clock      etc.Clock
}

// Controller is the single logical actor for one recording session. All
// Session mutation happens inside its event loop: timer ticks, connector
// events, and user commands are funneled through one channel so stale
// transitions are applied against current state and dropped when invalid.
type Controller struct {
	logger      *log.Logger
	cfg         Config
	clock       etc.Clock
	store       SessionStore
	persister   Persister
	summarizer  Summarizer
	notifier    Notifier
	mic         Microphone
	coordinator *Coordinator

	events chan loopEvent
	done   chan struct{}

	capture AudioSource
	sess    Session

	mu       sync.RWMutex
	snapshot Session
}

func NewController(logger *log.Logger, cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = etc.SystemClock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = LogNotifier{Logger: logger}
	}

	c := &Controller{
		logger:      logger,
		cfg:         cfg,
		clock:       deps.Clock,
		store:       deps.Store,
		persister:   deps.Persister,
		summarizer:  deps.Summarizer,
		notifier:    deps.Notifier,
		mic:         deps.Microphone,
		coordinator: NewCoordinator(deps.Connectors, logger),
		events:      make(chan loopEvent, 256),
		done:        make(chan struct{}),
	}
	c.sess = c.idleShape()
	c.publish()
	return c
}

func (c *Controller) idleShape() Session {
	return Session{
		Title:        DefaultTitle,
		Status:       StateIdle,
		CountdownSec: c.cfg.CountdownSec,
	}
}

// Run drives the event loop until ctx is cancelled, then tears everything
// down unconditionally: connectors, microphone, and both counters.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-ticker.C:
			c.handleTick(ctx)
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

// Snapshot returns a read-only copy of the session state.
func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *Controller) RequestConsent() error {
	return c.send(loopEvent{cmd: cmdRequestConsent})
}

func (c *Controller) ConfirmConsentAndStart(actor Actor, title string) error {
	return c.send(loopEvent{cmd: cmdStart, actor: actor, title: title})
}

func (c *Controller) SetTitle(title string) error {
	return c.send(loopEvent{cmd: cmdSetTitle, title: title})
}

func (c *Controller) TriggerCountdown() error {
	return c.send(loopEvent{cmd: cmdTriggerCountdown})
}

func (c *Controller) ResumeRecording() error {
	return c.send(loopEvent{cmd: cmdResume})
}

func (c *Controller) StopAndProcess() error {
	return c.send(loopEvent{cmd: cmdStop})
}

func (c *Controller) Reset() error {
	return c.send(loopEvent{cmd: cmdReset})
}

func (c *Controller) send(ev loopEvent) error {
	ev.reply = make(chan error, 1)
	select {
	case c.events <- ev:
	case <-c.done:
		return errors.New("session controller stopped")
	}
	select {
	case err := <-ev.reply:
		return err
	case <-c.done:
		return errors.New("session controller stopped")
	}
}

func (c *Controller) dispatch(ctx context.Context, ev loopEvent) {
	switch {
	case ev.hasConnEv:
		c.handleConnectorEvent(ctx, ev.conn, ev.connEv)
	case ev.cmd != 0:
		ev.reply <- c.handleCommand(ctx, ev)
	}
}

func (c *Controller) handleCommand(ctx context.Context, ev loopEvent) error {
	switch ev.cmd {
	case cmdRequestConsent:
		return c.apply(EventRequestConsent)
	case cmdStart:
		return c.confirmConsentAndStart(ctx, ev.actor, ev.title)
	case cmdSetTitle:
		return c.setTitle(ctx, ev.title)
	case cmdTriggerCountdown:
		if err := c.apply(EventTriggerCountdown); err != nil {
			return err
		}
		c.sess.CountdownSec = c.cfg.CountdownSec
		c.publish()
		return nil
	case cmdResume:
		if err := c.apply(EventResume); err != nil {
			return err
		}
		// Elapsed duration already counted stays counted.
		c.sess.CountdownSec = c.cfg.CountdownSec
		c.publish()
		return nil
	case cmdStop:
		return c.stopAndProcess(ctx)
	case cmdReset:
		// Reset never disconnects live connectors; callers stop first.
		c.sess = c.idleShape()
		c.publish()
		return nil
	default:
		return fmt.Errorf("unknown command %d", ev.cmd)
	}
}

// apply runs one machine transition against current state.
func (c *Controller) apply(event Event) error {
	next, err := Transition(c.sess.Status, event)
	if err != nil {
		return err
	}
	c.sess.Status = next
	c.publish()
	return nil
}

func (c *Controller) confirmConsentAndStart(ctx context.Context, actor Actor, title string) error {
	if _, err := Transition(c.sess.Status, EventStart); err != nil {
		return err
	}
	if actor.UserID == "" || actor.TenantID == "" {
		c.notifier.Error("Bitte erst einloggen")
		return ErrNoActor
	}

	if title == "" {
		title = DefaultTitle
	}
	startedAt := c.clock.Now()

	id, err := c.store.CreateSession(ctx, actor.TenantID, actor.UserID, title, startedAt)
	if err != nil {
		c.notifier.Error("Fehler beim Erstellen der Session")
		c.logger.Error("failed to create session", "error", err)
		return err
	}

	c.persister.Reset(id)
	c.coordinator.Reset()

	capture, err := c.mic.Acquire()
	if err != nil {
		c.notifier.Error("Mikrofon nicht verfügbar")
		c.logger.Error("failed to acquire microphone", "error", err)
		return err
	}
	c.capture = capture

	c.sess = Session{
		ID:           id,
		Title:        title,
		Status:       StateRecording,
		StartedAt:    &startedAt,
		DurationSec:  0,
		CountdownSec: c.cfg.CountdownSec,
	}
	c.publish()
	c.logger.Info("recording started", "session", id, "title", title)

	conn, err := c.coordinator.StartPrimary(ctx, capture.Frames())
	if err != nil {
		// Recording continues; the transcript just stays empty.
		c.notifier.Error("Spracherkennung wird auf diesem System nicht unterstützt")
		c.logger.Error("no transcription engine available", "error", err)
		return nil
	}
	c.pumpEvents(conn)
	return nil
}

func (c *Controller) setTitle(ctx context.Context, title string) error {
	if c.sess.Status == StateProcessing || c.sess.Status == StateReady {
		return fmt.Errorf("title can no longer change in state %s", c.sess.Status)
	}
	c.sess.Title = title
	c.publish()

	if c.sess.ID != "" {
		if err := c.store.UpdateSessionTitle(ctx, c.sess.ID, title); err != nil {
			c.logger.Error("failed to update session title", "error", err)
		}
	}
	return nil
}

func (c *Controller) stopAndProcess(ctx context.Context) error {
	if err := c.apply(EventStop); err != nil {
		return err
	}

	c.coordinator.StopAll()
	c.releaseCapture()

	label := c.coordinator.Label()
	c.sess.SttEngine = engineLabel(label)
	c.publish()

	err := c.store.FinalizeSession(ctx, c.sess.ID, c.sess.DurationSec, label, c.clock.Now())
	if err != nil {
		c.logger.Error("failed to finalize session", "error", err)
	}

	if err := c.summarizer.Summarize(ctx, c.sess.ID); err != nil {
		c.logger.Error("summarize failed", "error", err, "session", c.sess.ID)
		c.notifier.Error("Fehler bei der Zusammenfassung")
		if dbErr := c.store.MarkSessionIdle(ctx, c.sess.ID); dbErr != nil {
			c.logger.Error("failed to mark session idle", "error", dbErr)
		}
		_ = c.apply(EventSummarizeFailed)
		return err
	}

	if err := c.store.MarkSessionReady(ctx, c.sess.ID); err != nil {
		c.logger.Error("failed to mark session ready", "error", err)
	}
	c.sess.ResultSessionID = c.sess.ID
	_ = c.apply(EventSummarized)
	c.notifier.Success("Meeting-Protokoll erstellt")
	c.logger.Info("session ready", "session", c.sess.ID, "engine", label, "duration", c.sess.DurationSec)
	return nil
}

// handleTick advances whichever counter is active for the current state.
// In every other state a tick is a no-op, so a tick racing a transition
// can never touch a counter it no longer owns.
func (c *Controller) handleTick(ctx context.Context) {
	switch c.sess.Status {
	case StateRecording:
		c.sess.DurationSec++
		if c.sess.DurationSec >= c.cfg.MaxDurationSec {
			// The cap requests the same transition as a manual countdown.
			_ = c.apply(EventTriggerCountdown)
			c.sess.CountdownSec = c.cfg.CountdownSec
		}
		c.publish()
	case StateCountdown:
		if c.sess.CountdownSec > 0 {
			c.sess.CountdownSec--
		}
		c.publish()
		if c.sess.CountdownSec == 0 {
			if err := c.stopAndProcess(ctx); err != nil {
				c.logger.Error("automatic stop failed", "error", err)
			}
		}
	}
}

func (c *Controller) handleConnectorEvent(ctx context.Context, conn stt.Connector, ev stt.Event) {
	if conn != c.coordinator.Active() {
		// Stale: the engine was already replaced or the session stopped.
		return
	}

	switch ev.Kind {
	case stt.EventCommit:
		c.persister.SaveChunk(c.sess.ID, ev.Text, conn.Engine())
		c.sess.SttEngine = engineLabel(c.coordinator.Label())
		c.publish()
	case stt.EventError, stt.EventClosed:
		if c.sess.Status != StateRecording && c.sess.Status != StateCountdown {
			return
		}
		if conn.Engine() != stt.EnginePrimary {
			c.logger.Warn("fallback engine error", "message", ev.Message)
			return
		}
		c.logger.Warn("primary engine failed, switching to fallback", "message", ev.Message)
		next, err := c.coordinator.Degrade(ctx)
		if err != nil {
			c.notifier.Error("Spracherkennung wird auf diesem System nicht unterstützt")
			c.logger.Error("fallback engine unavailable", "error", err)
			return
		}
		if next != nil {
			c.pumpEvents(next)
		}
	}
}

// pumpEvents forwards one connector's events into the loop until its
// event channel closes.
func (c *Controller) pumpEvents(conn stt.Connector) {
	go func() {
		for ev := range conn.Events() {
			select {
			case c.events <- loopEvent{hasConnEv: true, conn: conn, connEv: ev}:
			case <-c.done:
				return
			}
		}
	}()
}

func (c *Controller) releaseCapture() {
	if c.capture != nil {
		c.capture.Release()
		c.capture = nil
	}
}

// teardown disconnects everything regardless of state.
func (c *Controller) teardown() {
	c.coordinator.StopAll()
	c.releaseCapture()
	c.logger.Info("session controller stopped", "state", c.sess.Status)
}

// engineLabel maps the empty no-engine label to nil so the session
// serializes it as null.
func engineLabel(label string) *string {
	if label == "" {
		return nil
	}
	return &label
}

func (c *Controller) publish() {
	c.mu.Lock()
	c.snapshot = c.sess
	c.mu.Unlock()
}
