package repo

import (
	"time"

	"github.com/labelspy/server/internal/agent/model"
)

// analysisRow is the persisted form of model.HistoryRecord.
type analysisRow struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement"`
	UserID              int64     `gorm:"not null;index:idx_analyses_user_created,priority:1"`
	Username            string    `gorm:"not null;default:''"`
	ProductName         string    `gorm:"not null"`
	CompositionExcerpt  string    `gorm:"not null"`
	Verdict             string    `gorm:"not null"`
	RiskLevel           string    `gorm:"not null"`
	FullAnalysisPayload string    `gorm:"type:text;not null"`
	CreatedAt           time.Time `gorm:"not null;index:idx_analyses_user_created,priority:2,sort:desc"`
}

func (analysisRow) TableName() string {
	return "analyses"
}

func rowFromRecord(rec *model.HistoryRecord) *analysisRow {
	return &analysisRow{
		UserID:              rec.UserID,
		Username:            rec.Username,
		ProductName:         rec.ProductName,
		CompositionExcerpt:  rec.CompositionExcerpt,
		Verdict:             rec.Verdict,
		RiskLevel:           string(rec.RiskLevel),
		FullAnalysisPayload: rec.FullAnalysisPayload,
		CreatedAt:           rec.CreatedAt,
	}
}

func (r *analysisRow) toRecord() model.HistoryRecord {
	return model.HistoryRecord{
		ID:                  r.ID,
		UserID:              r.UserID,
		Username:            r.Username,
		ProductName:         r.ProductName,
		CompositionExcerpt:  r.CompositionExcerpt,
		Verdict:             r.Verdict,
		RiskLevel:           model.NormalizeRiskLevel(r.RiskLevel),
		FullAnalysisPayload: r.FullAnalysisPayload,
		CreatedAt:           r.CreatedAt.UTC(),
	}
}
