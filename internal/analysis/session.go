package analysis

import (
	"time"

	"github.com/google/uuid"
)

// Session is the explicit context of one document analysis. Every pipeline
// stage reads and mutates a *Session; nothing is kept in package state.
type Session struct {
	ID             string         `json:"id"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DocType        DocType        `json:"doc_type"`
	Source         string         `json:"source"`
	Document       DocumentResult `json:"document"`
	SelectedTicker string         `json:"selected_ticker,omitempty"`
	PlanText       string         `json:"plan_text,omitempty"`
	FinalReport    string         `json:"final_report,omitempty"`
	Progress       TaskProgress   `json:"progress"`
}

// NewSession starts a fresh analysis for a new document.
func NewSession(docType DocType, source string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		DocType:   docType,
		Source:    source,
		Document:  EmptyDocumentResult(),
		Progress:  NewTaskProgress(),
	}
}

// Touch bumps the update timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Title returns a short human label for the session.
func (s *Session) Title() string {
	if s.SelectedTicker != "" {
		for i, t := range s.Document.Tickers {
			if t == s.SelectedTicker && i < len(s.Document.Companies) {
				return s.Document.Companies[i] + " (" + t + ")"
			}
		}
		return s.SelectedTicker
	}
	if len(s.Document.Modules) > 0 {
		return s.Document.Modules[0]
	}
	return s.Source
}
