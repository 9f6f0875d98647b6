package service

import (
	"context"
	"fmt"
)

// Updater runs the top-level jobs: refreshing stale links and discovering
// new links before refreshing.
type Updater struct {
	Discovery *Discovery
	Scheduler *Scheduler
	Refresher *Refresher
}

// UpdateClicks refreshes every link that is due.
func (u *Updater) UpdateClicks(ctx context.Context) (CycleReport, error) {
	due, err := u.Scheduler.DueLinks(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("select due links: %w", err)
	}
	return u.Refresher.RunCycle(ctx, due)
}

// UpdateEverything discovers new links for every tracked domain, then runs
// a refresh cycle.
func (u *Updater) UpdateEverything(ctx context.Context) ([]DiscoveryReport, CycleReport, error) {
	reports, err := u.Discovery.DiscoverAll(ctx)
	if err != nil {
		return nil, CycleReport{}, err
	}
	cycle, err := u.UpdateClicks(ctx)
	return reports, cycle, err
}
