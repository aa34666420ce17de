// Package retention implements the pure, side-effect-free retention
// planner: given a set of stored backup artifacts and a policy, it returns
// disjoint (keep, delete) partitions. It never touches a storage provider
// itself — internal/pipeline calls Plan and then asks the provider to
// execute the resulting deletions.
//
// Bucketing is grounded on the same calendar-bucket-per-period approach
// used by a media-backup tool in the reference corpus (daily/weekly/monthly
// "best artifact per period" selection via a map keyed by a formatted date
// string), generalized here to the four modes this engine supports.
package retention

import (
	"fmt"
	"sort"
	"time"
)

// Mode is the closed set of retention strategies. Exactly one is active per
// policy.
type Mode string

const (
	ModeLastN      Mode = "last_n"
	ModeMaxAgeDays Mode = "max_age_days"
	ModeMaxSize    Mode = "max_size"
	ModeSmart      Mode = "smart"
)

// Profile supplies default tier sizes for smart mode when a tier is unset.
type Profile string

const (
	ProfileInfo   Profile = "info"
	ProfileMedium Profile = "medium"
	ProfileHigh   Profile = "high"
)

// profileDefaults maps a profile to {daily, weekly, monthly, yearly} tier
// limits used whenever the corresponding Smart field is zero.
var profileDefaults = map[Profile][4]int{
	ProfileInfo:   {3, 2, 3, 1},
	ProfileMedium: {7, 4, 12, 2},
	ProfileHigh:   {14, 8, 24, 5},
}

// Smart holds the tiered bucket limits for ModeSmart.
type Smart struct {
	Profile Profile `json:"profile,omitempty"`
	Daily   int     `json:"daily,omitempty"`
	Weekly  int     `json:"weekly,omitempty"`
	Monthly int     `json:"monthly,omitempty"`
	Yearly  int     `json:"yearly,omitempty"`
}

// resolved returns the tier limits with zero fields filled from Profile's
// defaults (ProfileMedium if Profile is unset).
func (s Smart) resolved() (daily, weekly, monthly, yearly int) {
	profile := s.Profile
	if profile == "" {
		profile = ProfileMedium
	}
	d := profileDefaults[profile]
	daily, weekly, monthly, yearly = s.Daily, s.Weekly, s.Monthly, s.Yearly
	if daily == 0 {
		daily = d[0]
	}
	if weekly == 0 {
		weekly = d[1]
	}
	if monthly == 0 {
		monthly = d[2]
	}
	if yearly == 0 {
		yearly = d[3]
	}
	return
}

// Policy is the embedded retention document on a Schedule.
type Policy struct {
	Mode          Mode          `json:"mode,omitempty"`
	KeepLast      int           `json:"keep_last,omitempty"`
	MaxAgeDays    int           `json:"max_age_days,omitempty"`
	MaxSizeBytes  int64         `json:"max_size_bytes,omitempty"`
	Smart         Smart         `json:"smart,omitempty"`
	MaxBackups    int           `json:"max_backups,omitempty"` // final clamp: demote oldest from keep when exceeded
	MinBackups    int           `json:"min_backups,omitempty"` // final clamp: promote newest from delete when short
	Encrypt       bool          `json:"encrypt,omitempty"`
	RunAtTime     string        `json:"run_at_time,omitempty"` // "HH:MM", used by internal/scheduler, not by Plan
	Notifications Notifications `json:"notifications,omitempty"`
}

// ChannelRule is the shared on_success/on_failure/on_warning shape for both
// notification channels.
type ChannelRule struct {
	Enabled   bool `json:"enabled,omitempty"`
	OnSuccess bool `json:"on_success,omitempty"`
	OnFailure bool `json:"on_failure,omitempty"`
	OnWarning bool `json:"on_warning,omitempty"`
}

// Notify reports whether this channel should fire for the given terminal
// run status ("success", "failed", or any other value treated as warning).
func (c ChannelRule) Notify(status string) bool {
	if !c.Enabled {
		return false
	}
	switch status {
	case "success":
		return c.OnSuccess
	case "failed":
		return c.OnFailure
	default:
		return c.OnWarning
	}
}

// TelegramChannel configures delivery via a Telegram bot (§ notifications:
// per-schedule chat_id, global bot token).
type TelegramChannel struct {
	ChannelRule
	ChatID string `json:"chat_id,omitempty"`
}

// EmailChannel configures delivery via SMTP to a single recipient address.
type EmailChannel struct {
	ChannelRule
	To string `json:"to,omitempty"`
}

// Notifications is the per-schedule notification configuration embedded in
// retention, grounded on the original automation service's
// notifications_config shape (telegram/email, each independently enabled
// and filtered by outcome).
type Notifications struct {
	Telegram TelegramChannel `json:"telegram,omitempty"`
	Email    EmailChannel    `json:"email,omitempty"`
}

// StoredBackup is an artifact as enumerated from a storage provider. Size is
// nil when the provider did not report it.
type StoredBackup struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Size      *int64
}

// Reason documents why a single artifact was kept or scheduled for
// deletion, used by the preview endpoint and by tests asserting on
// planner behavior.
type Reason struct {
	Backup StoredBackup
	Keep   bool
	Why    string
}

// Plan returns disjoint (keep, delete) partitions covering exactly the
// input set: keep ∪ delete = backups, keep ∩ delete = ∅ (invariant 3).
func Plan(backups []StoredBackup, policy Policy) (keep, delete []StoredBackup) {
	reasons := PlanWithReasons(backups, policy)
	for _, r := range reasons {
		if r.Keep {
			keep = append(keep, r.Backup)
		} else {
			delete = append(delete, r.Backup)
		}
	}
	return keep, delete
}

// PlanWithReasons is Plan with an explanation attached to each artifact,
// used by the retention-preview endpoint.
func PlanWithReasons(backups []StoredBackup, policy Policy) []Reason {
	sorted := sortedNewestFirst(backups)

	keepSet := make(map[string]string, len(sorted)) // id -> reason
	switch policy.Mode {
	case ModeLastN:
		planLastN(sorted, policy.KeepLast, keepSet)
	case ModeMaxAgeDays:
		planMaxAge(sorted, policy, keepSet)
	case ModeMaxSize:
		planMaxSize(sorted, policy, keepSet)
	case ModeSmart:
		planSmart(sorted, policy, keepSet)
	default:
		// Unrecognized mode: keep everything rather than silently deleting —
		// callers validate Mode before invoking Plan.
		for _, b := range sorted {
			keepSet[b.ID] = "unrecognized retention mode, preserved conservatively"
		}
	}

	applyClamps(sorted, policy, keepSet)

	reasons := make([]Reason, 0, len(sorted))
	for _, b := range sorted {
		why, kept := keepSet[b.ID]
		if !kept {
			why = "outside retention window"
		}
		reasons = append(reasons, Reason{Backup: b, Keep: kept, Why: why})
	}
	return reasons
}

func sortedNewestFirst(backups []StoredBackup) []StoredBackup {
	out := make([]StoredBackup, len(backups))
	copy(out, backups)
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID // tie-break ascending id
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func planLastN(sorted []StoredBackup, keepLast int, keepSet map[string]string) {
	for i, b := range sorted {
		if i < keepLast {
			keepSet[b.ID] = "within newest keep_last"
		}
	}
}

func planMaxAge(sorted []StoredBackup, policy Policy, keepSet map[string]string) {
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.MaxAgeDays)
	for i, b := range sorted {
		if i < policy.KeepLast {
			keepSet[b.ID] = "within newest keep_last"
			continue
		}
		if !b.CreatedAt.Before(cutoff) {
			keepSet[b.ID] = "within max_age_days"
		}
	}
}

func planMaxSize(sorted []StoredBackup, policy Policy, keepSet map[string]string) {
	var total int64
	for i, b := range sorted {
		if i < policy.KeepLast {
			keepSet[b.ID] = "within newest keep_last"
			if b.Size != nil {
				total += *b.Size
			}
			continue
		}
		size := int64(0)
		if b.Size != nil {
			size = *b.Size
		}
		if total+size <= policy.MaxSizeBytes {
			keepSet[b.ID] = "admitted under max_size_bytes"
			total += size
		}
	}
}

func planSmart(sorted []StoredBackup, policy Policy, keepSet map[string]string) {
	daily, weekly, monthly, yearly := policy.Smart.resolved()

	for i, b := range sorted {
		if i < policy.KeepLast {
			keepSet[b.ID] = "within newest keep_last"
		}
	}

	selectByPeriod(sorted, daily, keepSet, "daily tier", func(t time.Time) string {
		return t.Format("2006-01-02")
	})
	selectByPeriod(sorted, weekly, keepSet, "weekly tier", func(t time.Time) string {
		year, week := t.ISOWeek()
		return isoWeekKey(year, week)
	})
	selectByPeriod(sorted, monthly, keepSet, "monthly tier", func(t time.Time) string {
		return t.Format("2006-01")
	})
	selectByPeriod(sorted, yearly, keepSet, "yearly tier", func(t time.Time) string {
		return t.Format("2006")
	})
}

func isoWeekKey(year, week int) string {
	return fmt.Sprintf("%d-W%02d", year, week)
}

// selectByPeriod keeps the newest artifact within each calendar bucket
// (produced by keyFunc), up to limit distinct buckets, walking sorted
// (already newest-first) so the first artifact seen per bucket is its
// newest.
func selectByPeriod(sorted []StoredBackup, limit int, keepSet map[string]string, why string, keyFunc func(time.Time) string) {
	if limit <= 0 {
		return
	}
	seenBuckets := make(map[string]bool)
	for _, b := range sorted {
		key := keyFunc(b.CreatedAt)
		if seenBuckets[key] {
			continue
		}
		if len(seenBuckets) >= limit {
			break
		}
		seenBuckets[key] = true
		if _, already := keepSet[b.ID]; !already {
			keepSet[b.ID] = why
		}
	}
}

// applyClamps enforces the final max_backups/min_backups adjustment: demote
// oldest kept artifacts when over max_backups, promote newest deleted
// artifacts when under min_backups.
func applyClamps(sorted []StoredBackup, policy Policy, keepSet map[string]string) {
	if policy.MaxBackups > 0 {
		kept := keptIndices(sorted, keepSet)
		for len(kept) > policy.MaxBackups {
			oldest := kept[len(kept)-1]
			delete(keepSet, sorted[oldest].ID)
			kept = kept[:len(kept)-1]
		}
	}
	if policy.MinBackups > 0 {
		kept := keptIndices(sorted, keepSet)
		if len(kept) < policy.MinBackups {
			for _, idx := range sorted2Indices(sorted, keepSet) {
				if len(kept) >= policy.MinBackups {
					break
				}
				keepSet[sorted[idx].ID] = "promoted to satisfy min_backups"
				kept = append(kept, idx)
			}
		}
	}
}

func keptIndices(sorted []StoredBackup, keepSet map[string]string) []int {
	var idx []int
	for i, b := range sorted {
		if _, ok := keepSet[b.ID]; ok {
			idx = append(idx, i)
		}
	}
	return idx
}

// sorted2Indices returns indices of artifacts NOT currently kept, in
// newest-first order (the order of sorted itself), so promotion picks the
// newest deleted artifacts first.
func sorted2Indices(sorted []StoredBackup, keepSet map[string]string) []int {
	var idx []int
	for i, b := range sorted {
		if _, ok := keepSet[b.ID]; !ok {
			idx = append(idx, i)
		}
	}
	return idx
}
