package transcript

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"meetscribe/stt"
)

type recordedChunk struct {
	sessionID string
	seq       int
	text      string
	engine    string
}

type fakeChunkStore struct {
	mu      sync.Mutex
	chunks  []recordedChunk
	failSeq int
	fail    bool
}

func (s *fakeChunkStore) InsertChunk(_ context.Context, sessionID string, seq int, text string, engine string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail && seq == s.failSeq {
		return errors.New("write refused")
	}
	s.chunks = append(s.chunks, recordedChunk{sessionID, seq, text, engine})
	return nil
}

func (s *fakeChunkStore) all() []recordedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedChunk(nil), s.chunks...)
}

func TestSequenceContiguousInSubmissionOrder(t *testing.T) {
	store := &fakeChunkStore{}
	p := NewPersister(store, log.New(io.Discard))
	p.Reset("s1")

	p.SaveChunk("s1", "eins", stt.EnginePrimary)
	p.SaveChunk("s1", "zwei", stt.EnginePrimary)
	p.SaveChunk("s1", "drei", stt.EngineFallback)
	p.Close()

	chunks := store.all()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.seq != i {
			t.Errorf("chunk %d has seq %d", i, c.seq)
		}
	}
	if chunks[2].engine != "fallback" {
		t.Errorf("expected fallback tag, got %q", chunks[2].engine)
	}
}

func TestEmptyTextNeverPersisted(t *testing.T) {
	store := &fakeChunkStore{}
	p := NewPersister(store, log.New(io.Discard))
	p.Reset("s1")

	p.SaveChunk("s1", "", stt.EnginePrimary)
	p.SaveChunk("s1", "   \t\n", stt.EnginePrimary)
	p.SaveChunk("s1", "  echt  ", stt.EnginePrimary)
	p.Close()

	chunks := store.all()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].seq != 0 || chunks[0].text != "echt" {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestSeqNotReusedAfterFailedWrite(t *testing.T) {
	store := &fakeChunkStore{fail: true, failSeq: 1}
	p := NewPersister(store, log.New(io.Discard))
	p.Reset("s1")

	p.SaveChunk("s1", "a", stt.EnginePrimary)
	p.SaveChunk("s1", "b", stt.EnginePrimary)
	p.SaveChunk("s1", "c", stt.EnginePrimary)
	p.Close()

	chunks := store.all()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 persisted chunks, got %d", len(chunks))
	}
	if chunks[0].seq != 0 || chunks[1].seq != 2 {
		t.Errorf("expected seqs 0 and 2, got %d and %d", chunks[0].seq, chunks[1].seq)
	}
}

func TestResetStartsCounterAtZero(t *testing.T) {
	store := &fakeChunkStore{}
	p := NewPersister(store, log.New(io.Discard))

	p.Reset("s1")
	p.SaveChunk("s1", "alt", stt.EnginePrimary)
	p.Reset("s2")
	p.SaveChunk("s2", "neu", stt.EnginePrimary)
	p.Close()

	chunks := store.all()
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].sessionID != "s2" || chunks[1].seq != 0 {
		t.Errorf("expected fresh counter for new session, got %+v", chunks[1])
	}
}
