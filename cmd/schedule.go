package main

import (
	"context"
	"fmt"

	"tidbyt.dev/fleetrt"
	"tidbyt.dev/fleetrt/config"
)

func loadSchedule(ctx context.Context, cfg *config.Config) (*fleetrt.Schedule, error) {
	s, err := cfg.Storage()
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	manager, err := cfg.Manager(s)
	if err != nil {
		return nil, fmt.Errorf("creating manager: %w", err)
	}

	schedule, err := manager.LoadSchedule(ctx, cfg.ScheduleSource())
	if err != nil {
		return nil, fmt.Errorf("loading schedule: %w", err)
	}

	return schedule, nil
}
