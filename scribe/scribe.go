// Package scribe maintains the bidirectional stream to the cloud
// transcription service.
package scribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"meetscribe/stt"
	"meetscribe/token"
)

const (
	PingInterval = 30 * time.Second
	PongTimeout  = 60 * time.Second
)

type configureMessage struct {
	Type           string `json:"type"`
	LanguageCode   string `json:"language_code"`
	CommitStrategy string `json:"commit_strategy"`
}

type audioMessage struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

// Config carries everything needed to open one stream.
type Config struct {
	URL      string
	Language string
	Issuer   token.Issuer
	Logger   *log.Logger
}

// Connection is one live stream to the transcription service. It consumes
// PCM frames and emits committed transcripts as events.
type Connection struct {
	cfg    Config
	frames <-chan []byte

	conn   *websocket.Conn
	events chan stt.Event
	stopCh chan struct{}
	cancel context.CancelFunc

	writeMu sync.Mutex
	mu      sync.Mutex
	stopped bool
}

func NewConnection(cfg Config, frames <-chan []byte) *Connection {
	return &Connection{
		cfg:    cfg,
		frames: frames,
		events: make(chan stt.Event),
		stopCh: make(chan struct{}),
	}
}

func (c *Connection) Engine() stt.Engine {
	return stt.EnginePrimary
}

func (c *Connection) Events() <-chan stt.Event {
	return c.events
}

// Start obtains a credential, connects, sends the configure message, and
// launches the audio pump and reader. A token failure is returned to the
// caller as a connector failure; it is not retried here.
func (c *Connection) Start(ctx context.Context) error {
	tok, err := c.cfg.Issuer.SttToken(ctx)
	if err != nil {
		return fmt.Errorf("obtain stt token: %w", err)
	}

	streamURL := fmt.Sprintf("%s?token=%s", c.cfg.URL, url.QueryEscape(tok))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}
	c.conn = conn

	err = c.writeJSON(configureMessage{
		Type:           "configure",
		LanguageCode:   c.cfg.Language,
		CommitStrategy: "vad",
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to send configure message: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.readLoop()
	go c.pumpAudio(pumpCtx)
	go c.keepAlive(pumpCtx)

	return nil
}

// Stop closes the stream deliberately; the reader then exits without
// reporting a disconnect. Idempotent.
func (c *Connection) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	}
	return nil
}

func (c *Connection) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// emit delivers an event unless the connection was stopped, so the
// reader never hangs on a consumer that already went away.
func (c *Connection) emit(ev stt.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.stopCh:
		return false
	}
}

// readLoop decodes server events until the stream ends. An unsolicited
// close surfaces as EventClosed so the coordinator treats it like an
// explicit error.
func (c *Connection) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isStopped() {
				c.emit(stt.Event{Kind: stt.EventClosed, Message: err.Error()})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "committed_transcript", "committed_transcript_with_timestamps":
			if msg.Text == "" {
				continue
			}
			c.cfg.Logger.Info("hear", "txt", msg.Text)
			if !c.emit(stt.Event{Kind: stt.EventCommit, Text: msg.Text}) {
				return
			}
		case "error":
			reason := msg.Message
			if reason == "" {
				reason = "stt error"
			}
			c.cfg.Logger.Error("stream error", "message", reason)
			if !c.emit(stt.Event{Kind: stt.EventError, Message: reason}) {
				return
			}
		}
	}
}

// pumpAudio forwards capture frames as base64 audio messages.
func (c *Connection) pumpAudio(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-c.frames:
			if !ok {
				return
			}
			err := c.writeJSON(audioMessage{
				Type: "audio",
				Data: base64.StdEncoding.EncodeToString(frame),
			})
			if err != nil {
				if !c.isStopped() {
					c.cfg.Logger.Error("failed to write audio data", "error", err)
				}
				return
			}
		}
	}
}

func (c *Connection) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(PongTimeout),
			)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}
