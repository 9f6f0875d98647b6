package model

import "time"

// NeverRefreshed marks a series that has not been fetched yet.
var NeverRefreshed = time.Unix(0, 0).UTC()

// Sample is the click count of the bucket starting at Time.
type Sample struct {
	Time   time.Time `json:"t"`
	Clicks int64     `json:"c"`
}

// ClickSeries is the accumulated click history of one short link. Samples are
// unique by Time and sorted ascending.
type ClickSeries struct {
	Hash          string     `json:"hash" db:"hash" gorm:"primaryKey;size:64"`
	Samples       []Sample   `json:"samples" db:"samples" gorm:"serializer:json;type:text"`
	LastSampleAt  *time.Time `json:"last_sample_at,omitempty" db:"last_sample_at" gorm:"index"`
	LastRefreshed time.Time  `json:"last_refreshed" db:"last_refreshed" gorm:"not null;index"`
}

// LastSample returns the most recent sample, if any.
func (s *ClickSeries) LastSample() (Sample, bool) {
	if s == nil || len(s.Samples) == 0 {
		return Sample{}, false
	}
	return s.Samples[len(s.Samples)-1], true
}

// TotalClicks sums every recorded bucket.
func (s *ClickSeries) TotalClicks() int64 {
	if s == nil {
		return 0
	}
	var total int64
	for _, sample := range s.Samples {
		total += sample.Clicks
	}
	return total
}

func (ClickSeries) TableName() string {
	return "click_series"
}
