// Package oplock implements the process-local operation lock (§4.7): a
// single slot per database family (SQL or graph) that serializes a backup
// against a concurrent restore. Acquisition is atomic under an in-memory
// mutex, the same concurrency-safety pattern the reference server used for
// its in-memory connected-agent registry, generalized here from "map of
// many connected agents" to "one held operation per family with a TTL-based
// staleness reclaim" — a registry of at most two live entries instead of N.
//
// This lock is explicitly process-local (§9 design note): a multi-replica
// deployment must either pin restores to one replica or replace this with
// a distributed coordination primitive. That hoist is out of scope here.
package oplock

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vaultkeep/backupd/internal/apierr"
	"github.com/vaultkeep/backupd/internal/metrics"
)

// Family is the database family a lock slot guards: SQL targets
// (postgresql/mysql/sqlite) share one slot, graph targets (neo4j) another,
// matching "a single process-wide record per database family" in §3.
type Family string

const (
	FamilySQL   Family = "sql"
	FamilyGraph Family = "graph"
)

// Operation identifies what kind of work holds a lock slot.
type Operation string

const (
	OpBackup  Operation = "backup"
	OpRestore Operation = "restore"
)

// TTL is the staleness window after which a held lock is treated as
// abandoned (e.g. a crashed process) and reclaimable by the next acquirer.
const TTL = 2 * time.Hour

// FamilyForDBType maps a target's db_type to the lock family it shares
// with sibling db_types (§3: "a single process-wide record per database
// family"). neo4j is the sole graph member; everything else is SQL.
func FamilyForDBType(dbType string) Family {
	if dbType == "neo4j" {
		return FamilyGraph
	}
	return FamilySQL
}

// record is the held-lock state for one family.
type record struct {
	operation  Operation
	acquiredAt time.Time
}

func (r record) stale(now time.Time) bool {
	return now.Sub(r.acquiredAt) > TTL
}

// Manager holds the per-family lock slots. The zero value is not usable —
// create instances with New.
type Manager struct {
	mu      sync.Mutex
	slots   map[Family]*record
	logger  *zap.Logger
	nowFunc func() time.Time
}

// New creates a Manager with empty slots.
func New(logger *zap.Logger) *Manager {
	return &Manager{
		slots:   make(map[Family]*record),
		logger:  logger.Named("oplock"),
		nowFunc: time.Now,
	}
}

// Acquire attempts to take the lock slot for family in the given operation
// mode. It fails with apierr.ErrConflict if a non-stale record of any
// operation already holds the slot (a restore rejects a concurrent backup
// and vice versa, and a second backup of the same family is rejected too);
// a stale record of either operation is silently reclaimed.
func (m *Manager) Acquire(family Family, op Operation) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc().UTC()
	if existing, held := m.slots[family]; held && !existing.stale(now) {
		return nil, fmt.Errorf("%w: %s already in progress for %s family (acquired %s ago)",
			apierr.ErrConflict, existing.operation, family, now.Sub(existing.acquiredAt))
	} else if held {
		m.logger.Warn("reclaiming stale operation lock",
			zap.String("family", string(family)),
			zap.String("previous_operation", string(existing.operation)),
			zap.Time("previous_acquired_at", existing.acquiredAt),
		)
	}

	m.slots[family] = &record{operation: op, acquiredAt: now}
	m.logger.Info("operation lock acquired", zap.String("family", string(family)), zap.String("operation", string(op)))
	metrics.SetOplockHeld(string(family), true)

	released := false
	release = func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if released {
			return
		}
		released = true
		delete(m.slots, family)
		m.logger.Info("operation lock released", zap.String("family", string(family)), zap.String("operation", string(op)))
		metrics.SetOplockHeld(string(family), false)
	}
	return release, nil
}

// Status reports the current holder of family's slot, if any. Read-only
// status queries are always allowed regardless of lock state (§4.7).
func (m *Manager) Status(family Family) (op Operation, acquiredAt time.Time, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.slots[family]
	if !ok || r.stale(m.nowFunc().UTC()) {
		return "", time.Time{}, false
	}
	return r.operation, r.acquiredAt, true
}

// AnyHeld reports whether any family currently holds a non-stale lock of
// the given operation — used by the HTTP write-request middleware (§4.7):
// when a restore lock is held anywhere, application writes outside the
// backup management surface are refused.
func (m *Manager) AnyHeld(op Operation) (family Family, held bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc().UTC()
	for f, r := range m.slots {
		if r.operation == op && !r.stale(now) {
			return f, true
		}
	}
	return "", false
}
