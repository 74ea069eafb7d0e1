package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultExcerptLen bounds the stored composition text, in runes.
const DefaultExcerptLen = 500

// HistoryRecord is one completed analysis. Immutable once appended.
type HistoryRecord struct {
	ID                  int64
	UserID              int64
	Username            string
	ProductName         string
	CompositionExcerpt  string
	Verdict             string
	RiskLevel           RiskLevel
	FullAnalysisPayload string
	CreatedAt           time.Time
}

// NewHistoryRecord builds a record ready for Append. ID and CreatedAt are
// assigned by the store.
func NewHistoryRecord(userID int64, username, composition string, analysis *StructuredAnalysis, excerptLen int) (*HistoryRecord, error) {
	if analysis == nil {
		return nil, fmt.Errorf("analysis is nil")
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis: %w", err)
	}
	if excerptLen <= 0 {
		excerptLen = DefaultExcerptLen
	}
	return &HistoryRecord{
		UserID:              userID,
		Username:            username,
		ProductName:         analysis.ProductName,
		CompositionExcerpt:  Truncate(composition, excerptLen),
		Verdict:             analysis.Verdict,
		RiskLevel:           analysis.RiskLevel,
		FullAnalysisPayload: string(payload),
	}, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

type HistoryRepository interface {
	// Append writes the record and returns the assigned id.
	Append(ctx context.Context, rec *HistoryRecord) (int64, error)

	// ListRecent returns at most limit records of the user, newest first.
	ListRecent(ctx context.Context, userID int64, limit int) ([]HistoryRecord, error)

	// Clear removes all records of the user and returns how many were removed.
	Clear(ctx context.Context, userID int64) (int64, error)
}
