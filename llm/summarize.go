package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"meetscribe/db"
)

// ErrSummarization wraps every failure on the summarization path so the
// caller can treat them uniformly.
var ErrSummarization = errors.New("summarization failed")

const summaryPrompt = `Du bist ein Assistent, der Meeting-Protokolle schreibt.
Fasse das folgende Transkript als Protokoll zusammen: Teilnehmerbeiträge,
Entscheidungen und offene Punkte. Antworte in der Sprache des Transkripts.`

type TranscriptSource interface {
	ChunksForSession(ctx context.Context, sessionID string) ([]db.ChunkRow, error)
	SaveSummary(ctx context.Context, sessionID, summary string) error
}

// Summarizer turns a finished session's transcript into a stored summary.
type Summarizer struct {
	logger *log.Logger
	model  LanguageModel
	store  TranscriptSource
}

func NewSummarizer(logger *log.Logger, model LanguageModel, store TranscriptSource) *Summarizer {
	return &Summarizer{logger: logger, model: model, store: store}
}

func (s *Summarizer) Summarize(ctx context.Context, sessionID string) error {
	chunks, err := s.store.ChunksForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: load transcript: %v", ErrSummarization, err)
	}

	if len(chunks) == 0 {
		s.logger.Warn("no transcript to summarize", "session", sessionID)
		if err := s.store.SaveSummary(ctx, sessionID, "Keine Transkription vorhanden."); err != nil {
			return fmt.Errorf("%w: save summary: %v", ErrSummarization, err)
		}
		return nil
	}

	summary, err := s.model.Complete(ctx, summaryPrompt, FormatTranscript(chunks))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSummarization, err)
	}

	if err := s.store.SaveSummary(ctx, sessionID, summary); err != nil {
		return fmt.Errorf("%w: save summary: %v", ErrSummarization, err)
	}

	s.logger.Info("summary stored", "session", sessionID, "chunks", len(chunks))
	return nil
}

// FormatTranscript renders chunks in seq order for the model.
func FormatTranscript(chunks []db.ChunkRow) string {
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s: %s\n", c.Seq, c.EngineSource, c.Text)
	}
	return b.String()
}
