// Package tracker follows long-running statements of one instance across
// process list snapshots and reports them once they are seen to finish.
package tracker

import (
	"sort"
	"time"

	"github.com/newrelic/nri-mysql-collector/src/models"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
)

// Key identifies a statement. A pid is only unique within one instance.
type Key struct {
	Instance string
	PID      int64
}

// TrackedQuery is a statement that has run for at least the threshold and has not yet been seen to finish.
type TrackedQuery struct {
	Key
	DB         string
	User       string
	Host       string
	MaxElapsed int64
	// Start is inferred once, when the statement first qualifies, and never adjusted.
	Start     time.Time
	Statement string
}

// Tracker owns the working set of one instance. It is not safe for concurrent use;
// the loop of its instance is the only caller.
type Tracker struct {
	instance  string
	threshold int64
	tracked   map[Key]*TrackedQuery
}

func New(instance string, thresholdSecs int) *Tracker {
	return &Tracker{
		instance:  instance,
		threshold: int64(thresholdSecs),
		tracked:   make(map[Key]*TrackedQuery),
	}
}

// Reconcile folds one snapshot into the working set and returns the statements
// that were tracked but are no longer present, with now as their end time.
func (t *Tracker) Reconcile(rows []models.ProcessSnapshotRow, now time.Time) []models.CompletedQuery {
	now = now.UTC().Truncate(time.Second)

	present := make(map[Key]struct{}, len(rows))
	for _, row := range rows {
		key := Key{Instance: t.instance, PID: row.PID}
		present[key] = struct{}{}

		if row.Time < t.threshold {
			continue
		}

		query, ok := t.tracked[key]
		if !ok {
			query = &TrackedQuery{
				Key:   key,
				Start: now.Add(-time.Duration(row.Time) * time.Second),
			}
			t.tracked[key] = query
		}
		query.DB = row.DB
		query.User = row.User
		query.Host = row.Host
		if row.Time > query.MaxElapsed {
			query.MaxElapsed = row.Time
		}
		query.Statement = utils.CleanStatement(row.Info)
	}

	var completed []models.CompletedQuery
	for key, query := range t.tracked {
		if _, ok := present[key]; ok {
			continue
		}
		completed = append(completed, models.CompletedQuery{
			Instance: key.Instance,
			PID:      key.PID,
			DB:       query.DB,
			User:     query.User,
			Host:     query.Host,
			Time:     query.MaxElapsed,
			SQLText:  query.Statement,
			Start:    query.Start,
			End:      now,
		})
		delete(t.tracked, key)
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Start.Before(completed[j].Start)
	})
	return completed
}

// Len returns the number of statements currently tracked.
func (t *Tracker) Len() int {
	return len(t.tracked)
}

// Tracked returns a copy of a tracked statement.
func (t *Tracker) Tracked(pid int64) (TrackedQuery, bool) {
	query, ok := t.tracked[Key{Instance: t.instance, PID: pid}]
	if !ok {
		return TrackedQuery{}, false
	}
	return *query, true
}
