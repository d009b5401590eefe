package vendorapi

import (
	"context"
	"fmt"
	"time"
)

// PollConfig bounds the polling loop for one job.
type PollConfig struct {
	// Interval between polls. Default: 60s.
	Interval time.Duration

	// MaxPolls caps the number of status checks before the job is treated
	// as failed with ErrPollTimeout. Default: 100 (~100 minutes at the
	// default interval).
	MaxPolls int
}

// DefaultPollConfig returns the default polling bounds.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval: 60 * time.Second,
		MaxPolls: 100,
	}
}

// WaitForCompletion polls jobID until it reaches a terminal state.
//
// Transient poll errors do not consume extra budget beyond their poll slot:
// the loop keeps polling on the same cadence, since a long-running vendor job
// should not be abandoned over one flaky status check. The explicit state
// machine is SUBMITTED -> RUNNING -> {SUCCESS | FAILED | CANCELLED}, with
// ErrPollTimeout once MaxPolls checks pass without a terminal state.
func (c *Client) WaitForCompletion(ctx context.Context, jobID string, cfg PollConfig, clock Clock) (*Job, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig().Interval
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = DefaultPollConfig().MaxPolls
	}
	if clock == nil {
		clock = RealClock()
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxPolls; attempt++ {
		if attempt > 0 {
			if err := clock.Sleep(ctx, cfg.Interval); err != nil {
				return nil, err
			}
		}

		job, err := c.Poll(ctx, jobID)
		if err != nil {
			if IsTransient(err) {
				// Keep polling; the job may well still be running.
				lastErr = err
				continue
			}
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		lastErr = nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("job %s: %w after %d polls (last error: %v)", jobID, ErrPollTimeout, cfg.MaxPolls, lastErr)
	}
	return nil, fmt.Errorf("job %s: %w after %d polls", jobID, ErrPollTimeout, cfg.MaxPolls)
}
