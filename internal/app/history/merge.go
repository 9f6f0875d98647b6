// Package history reconciles fetched click samples with stored click series.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/adaptivelab/bitly-historics/internal/app/model"
)

// Merge folds incoming into existing. Counts are keyed by bucket start time and
// incoming values win on collision, so re-fetching a bucket corrects it. The
// result is sorted ascending and unique by time. Neither input is modified.
func Merge(existing, incoming []model.Sample) []model.Sample {
	byTime := make(map[int64]model.Sample, len(existing)+len(incoming))
	for _, s := range existing {
		byTime[s.Time.UnixNano()] = s
	}
	for _, s := range incoming {
		byTime[s.Time.UnixNano()] = s
	}

	merged := make([]model.Sample, 0, len(byTime))
	for _, s := range byTime {
		merged = append(merged, model.Sample{Time: s.Time.UTC(), Clicks: s.Clicks})
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})
	return merged
}

// Validate reports the first ordering or count violation in samples.
func Validate(samples []model.Sample) error {
	for i, s := range samples {
		if s.Clicks < 0 {
			return fmt.Errorf("sample %d at %s has negative count %d", i, s.Time.Format(time.RFC3339), s.Clicks)
		}
		if i > 0 && !samples[i-1].Time.Before(s.Time) {
			return fmt.Errorf("sample %d at %s is not after %s", i, s.Time.Format(time.RFC3339), samples[i-1].Time.Format(time.RFC3339))
		}
	}
	return nil
}

// MustBeOrdered panics if samples break the series invariants. A merged series
// that fails here means the merge itself is broken.
func MustBeOrdered(samples []model.Sample) {
	if err := Validate(samples); err != nil {
		panic("history: corrupt series: " + err.Error())
	}
}
