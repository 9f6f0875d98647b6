package model

import "time"

const (
	RefreshOutcomeRefreshed = "refreshed"
	RefreshOutcomeAbandoned = "abandoned"
)

// RefreshEvent records what happened to one link during a refresh cycle.
type RefreshEvent struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	ShortLink      string    `json:"short_link" gorm:"size:255;not null;index"`
	Hash           string    `json:"hash" gorm:"size:64;not null;index"`
	Outcome        string    `json:"outcome" gorm:"size:16;not null"`
	SamplesFetched int       `json:"samples_fetched"`
	SamplesTotal   int       `json:"samples_total"`
	Error          string    `json:"error,omitempty" gorm:"type:text"`
	Timestamp      time.Time `json:"timestamp" gorm:"index"`
}

const (
	RefreshStreamName     = "REFRESHES"
	RefreshStreamSubject  = "historics.refreshed"
	RefreshConsumerName   = "refresh-auditor"
	RefreshStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
