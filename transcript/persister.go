// Package transcript assigns sequence numbers to committed text fragments
// and writes them to the chunk store.
package transcript

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"meetscribe/stt"
)

type ChunkStore interface {
	InsertChunk(ctx context.Context, sessionID string, seq int, text string, engineSource string) error
}

type chunk struct {
	sessionID string
	seq       int
	text      string
	engine    stt.Engine
}

// Persister buffers chunk writes behind a single writer goroutine so the
// persisted order matches the order commits arrived in. Write failures are
// logged and never halt the recording pipeline.
type Persister struct {
	store  ChunkStore
	logger *log.Logger

	queue chan chunk
	done  chan struct{}

	mu   sync.Mutex
	seqs map[string]int
}

func NewPersister(store ChunkStore, logger *log.Logger) *Persister {
	p := &Persister{
		store:  store,
		logger: logger,
		queue:  make(chan chunk, 256),
		done:   make(chan struct{}),
		seqs:   map[string]int{},
	}
	go p.writeLoop()
	return p
}

// Reset zeroes the sequence counter for a fresh session.
func (p *Persister) Reset(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seqs[sessionID] = 0
}

// SaveChunk assigns the next sequence number and enqueues the write.
// Empty-after-trim text is dropped without consuming a sequence number.
// A sequence number, once assigned, is never reused even if the write
// later fails.
func (p *Persister) SaveChunk(sessionID string, text string, engine stt.Engine) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	p.mu.Lock()
	seq := p.seqs[sessionID]
	p.seqs[sessionID] = seq + 1
	p.mu.Unlock()

	p.queue <- chunk{sessionID: sessionID, seq: seq, text: trimmed, engine: engine}
}

// Close drains pending writes. No SaveChunk calls may follow.
func (p *Persister) Close() {
	close(p.queue)
	<-p.done
}

func (p *Persister) writeLoop() {
	defer close(p.done)
	for c := range p.queue {
		err := p.store.InsertChunk(
			context.Background(),
			c.sessionID,
			c.seq,
			c.text,
			string(c.engine),
		)
		if err != nil {
			p.logger.Error(
				"failed to save transcript chunk",
				"error", err,
				"session", c.sessionID,
				"seq", c.seq,
			)
		}
	}
}
