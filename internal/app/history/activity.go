package history

import (
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
)

// DefaultInactivityThreshold is how long a link may go without new clicks
// before it is considered dormant.
const DefaultInactivityThreshold = 5 * 24 * time.Hour

// Classifier decides whether a link still receives traffic.
type Classifier struct {
	Threshold time.Duration
}

// NewClassifier returns a classifier, falling back to the default threshold.
func NewClassifier(threshold time.Duration) Classifier {
	if threshold <= 0 {
		threshold = DefaultInactivityThreshold
	}
	return Classifier{Threshold: threshold}
}

// IsActive reports whether the link behind samples should keep being refreshed.
// A series with no samples is always active.
func (c Classifier) IsActive(lastRefreshed time.Time, samples []model.Sample) bool {
	if len(samples) == 0 {
		return true
	}
	mostRecent := samples[len(samples)-1].Time
	return lastRefreshed.Sub(mostRecent) < c.Threshold
}
