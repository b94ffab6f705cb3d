package scribe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"meetscribe/stt"
	"meetscribe/token"
)

type staticIssuer struct {
	token string
	err   error
}

func (s staticIssuer) SttToken(context.Context) (string, error) {
	return s.token, s.err
}

type wsServer struct {
	t        *testing.T
	server   *httptest.Server
	incoming chan map[string]any
	conns    chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	ws := &wsServer{
		t:        t,
		incoming: make(chan map[string]any, 32),
		conns:    make(chan *websocket.Conn, 1),
	}

	upgrader := websocket.Upgrader{}
	ws.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			t.Error("expected token query parameter")
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ws.conns <- conn
		go func() {
			for {
				var msg map[string]any
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				ws.incoming <- msg
			}
		}()
	}))
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.server.URL, "http")
}

func (ws *wsServer) next() map[string]any {
	select {
	case msg := <-ws.incoming:
		return msg
	case <-time.After(2 * time.Second):
		ws.t.Fatal("timed out waiting for client message")
		return nil
	}
}

func (ws *wsServer) conn() *websocket.Conn {
	select {
	case c := <-ws.conns:
		return c
	case <-time.After(2 * time.Second):
		ws.t.Fatal("timed out waiting for connection")
		return nil
	}
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

func testConfig(url string) Config {
	return Config{
		URL:      url,
		Language: "de",
		Issuer:   staticIssuer{token: "tok"},
		Logger:   log.New(io.Discard),
	}
}

func TestStopUnblocksUnconsumedReader(t *testing.T) {
	ws := newWSServer(t)
	defer ws.server.Close()

	conn := NewConnection(testConfig(ws.url()), make(chan []byte))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Nobody consumes events; the reader is parked mid-delivery when
	// Stop arrives and must still wind down.
	server := ws.conn()
	for i := 0; i < 3; i++ {
		err := server.WriteJSON(map[string]any{
			"type": "committed_transcript",
			"text": "hallo",
		})
		if err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	if err := conn.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after stop")
		}
	}
}

func TestConfigureAndAudioProtocol(t *testing.T) {
	ws := newWSServer(t)
	defer ws.server.Close()

	frames := make(chan []byte, 1)
	conn := NewConnection(testConfig(ws.url()), frames)
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	configure := ws.next()
	if configure["type"] != "configure" {
		t.Errorf("expected configure message, got %v", configure)
	}
	if configure["language_code"] != "de" {
		t.Errorf("expected language de, got %v", configure["language_code"])
	}
	if configure["commit_strategy"] != "vad" {
		t.Errorf("expected vad commit strategy, got %v", configure["commit_strategy"])
	}

	frames <- []byte{0x01, 0x02, 0x03, 0x04}
	audio := ws.next()
	if audio["type"] != "audio" {
		t.Errorf("expected audio message, got %v", audio)
	}
	decoded, err := base64.StdEncoding.DecodeString(audio["data"].(string))
	if err != nil {
		t.Fatalf("audio data not base64: %v", err)
	}
	if string(decoded) != string([]byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("audio payload mismatch: %v", decoded)
	}
}

func TestCommittedTranscriptEvents(t *testing.T) {
	ws := newWSServer(t)
	defer ws.server.Close()

	conn := NewConnection(testConfig(ws.url()), make(chan []byte))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer conn.Stop()

	server := ws.conn()
	ws.next() // configure

	send := func(v any) {
		data, _ := json.Marshal(v)
		if err := server.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("server write failed: %v", err)
		}
	}

	send(map[string]string{"type": "committed_transcript", "text": "Hallo zusammen"})
	ev := nextEvent(t, conn.Events())
	if ev.Kind != stt.EventCommit || ev.Text != "Hallo zusammen" {
		t.Errorf("unexpected event: %+v", ev)
	}

	send(map[string]string{"type": "committed_transcript_with_timestamps", "text": "Test"})
	ev = nextEvent(t, conn.Events())
	if ev.Kind != stt.EventCommit || ev.Text != "Test" {
		t.Errorf("unexpected event: %+v", ev)
	}

	send(map[string]string{"type": "error", "message": "quota exceeded"})
	ev = nextEvent(t, conn.Events())
	if ev.Kind != stt.EventError || ev.Message != "quota exceeded" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestUnsolicitedCloseEmitsClosed(t *testing.T) {
	ws := newWSServer(t)
	defer ws.server.Close()

	conn := NewConnection(testConfig(ws.url()), make(chan []byte))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	server := ws.conn()
	ws.next() // configure
	server.Close()

	ev := nextEvent(t, conn.Events())
	if ev.Kind != stt.EventClosed {
		t.Errorf("expected EventClosed, got %+v", ev)
	}
}

func TestStopClosesEventsWithoutClosedEvent(t *testing.T) {
	ws := newWSServer(t)
	defer ws.server.Close()

	conn := NewConnection(testConfig(ws.url()), make(chan []byte))
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	ws.next() // configure

	if err := conn.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := conn.Stop(); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}

	select {
	case ev, ok := <-conn.Events():
		if ok {
			t.Errorf("expected closed channel, got event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel never closed")
	}
}

func TestTokenFailureIsConnectorFailure(t *testing.T) {
	cfg := Config{
		URL:      "ws://localhost:1",
		Language: "de",
		Issuer:   staticIssuer{err: token.ErrTokenUnavailable},
		Logger:   log.New(io.Discard),
	}
	conn := NewConnection(cfg, make(chan []byte))
	err := conn.Start(context.Background())
	if !errors.Is(err, token.ErrTokenUnavailable) {
		t.Errorf("expected token error, got %v", err)
	}
}
