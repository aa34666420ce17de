package scheduler

import (
	"time"

	"github.com/vaultkeep/backupd/internal/retention"
)

const defaultDailyRunAtTime = "03:30"

// NextFire computes the next fire time for a schedule after a run finishing
// at reference, per §4.2. It is pure and deterministic in UTC.
func NextFire(intervalSeconds int64, policy retention.Policy, reference time.Time) time.Time {
	reference = reference.UTC()

	switch {
	case intervalSeconds == 86400:
		runAt := policy.RunAtTime
		if runAt == "" {
			runAt = defaultDailyRunAtTime
		}
		return nextDailyAnchor(reference, runAt)

	case intervalSeconds >= 3600 && policy.RunAtTime != "":
		return nextHourlyAnchor(reference, policy.RunAtTime, intervalSeconds)

	default:
		return reference.Add(time.Duration(intervalSeconds) * time.Second)
	}
}

// InitialFire computes the next_run_at value for a newly enabled schedule:
// now, so it fires promptly, unless the schedule is anchored (daily, or
// hourly-with-run_at_time), in which case the next anchored slot relative
// to now (§4.2).
func InitialFire(intervalSeconds int64, policy retention.Policy, now time.Time) time.Time {
	now = now.UTC()
	switch {
	case intervalSeconds == 86400:
		runAt := policy.RunAtTime
		if runAt == "" {
			runAt = defaultDailyRunAtTime
		}
		return nextDailyAnchor(now, runAt)
	case intervalSeconds >= 3600 && policy.RunAtTime != "":
		return nextHourlyAnchor(now, policy.RunAtTime, intervalSeconds)
	default:
		return now
	}
}

// nextDailyAnchor returns the first occurrence of hh:mm strictly after
// reference; if reference already equals that instant exactly, it advances
// by one full day (§4.2: "if equal, advance by one day").
func nextDailyAnchor(reference time.Time, hhmm string) time.Time {
	hour, minute := parseHHMM(hhmm)
	candidate := time.Date(reference.Year(), reference.Month(), reference.Day(), hour, minute, 0, 0, time.UTC)
	if candidate.Before(reference) {
		candidate = candidate.AddDate(0, 0, 1)
	} else if candidate.Equal(reference) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// nextHourlyAnchor walks forward from the hh:mm anchor by intervalSeconds
// steps until the result is strictly greater than reference.
func nextHourlyAnchor(reference time.Time, hhmm string, intervalSeconds int64) time.Time {
	hour, minute := parseHHMM(hhmm)
	step := time.Duration(intervalSeconds) * time.Second

	anchor := time.Date(reference.Year(), reference.Month(), reference.Day(), hour, minute, 0, 0, time.UTC)
	// Start from an anchor instant at or before reference, then walk forward.
	for anchor.After(reference) {
		anchor = anchor.Add(-step)
	}
	for !anchor.After(reference) {
		anchor = anchor.Add(step)
	}
	return anchor
}

func parseHHMM(hhmm string) (hour, minute int) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 3, 30
	}
	return t.Hour(), t.Minute()
}
