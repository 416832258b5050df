package tracker

import (
	"testing"
	"time"

	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cycle1 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func cycle(n int) time.Time {
	return cycle1.Add(time.Duration(n-1) * time.Second)
}

func row(pid, elapsed int64, statement string) models.ProcessSnapshotRow {
	return models.ProcessSnapshotRow{PID: pid, DB: "orders", User: "app", Host: "10.0.0.1:5123", Time: elapsed, Info: statement}
}

func TestReconcileCompletesOnFirstAbsence(t *testing.T) {
	tr := New("db1", 2)

	assert.Empty(t, tr.Reconcile([]models.ProcessSnapshotRow{row(55, 3, "SELECT SLEEP(5)")}, cycle(1)))
	assert.Empty(t, tr.Reconcile([]models.ProcessSnapshotRow{row(55, 4, "SELECT SLEEP(5)")}, cycle(2)))
	completed := tr.Reconcile(nil, cycle(3))

	require.Len(t, completed, 1)
	assert.Equal(t, models.CompletedQuery{
		Instance: "db1",
		PID:      55,
		DB:       "orders",
		User:     "app",
		Host:     "10.0.0.1:5123",
		Time:     4,
		SQLText:  "SELECT SLEEP(5)",
		Start:    cycle(1).Add(-3 * time.Second),
		End:      cycle(3),
	}, completed[0])
	assert.Equal(t, 0, tr.Len())

	// nothing is emitted twice
	assert.Empty(t, tr.Reconcile(nil, cycle(4)))
}

func TestReconcileMaxElapsedAndStartOverManyCycles(t *testing.T) {
	tests := []struct {
		name    string
		elapsed []int64
	}{
		{name: "Single qualifying cycle", elapsed: []int64{2}},
		{name: "Monotonic over several cycles", elapsed: []int64{2, 3, 4, 5, 6}},
		{name: "Crosses the threshold mid observation", elapsed: []int64{0, 1, 2, 3}},
		{name: "First observed well above threshold", elapsed: []int64{120, 121, 122}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("db1", 2)
			var firstQualified time.Time
			var firstElapsed int64
			for i, e := range tt.elapsed {
				now := cycle(i + 1)
				if e >= 2 && firstQualified.IsZero() {
					firstQualified, firstElapsed = now, e
				}
				assert.Empty(t, tr.Reconcile([]models.ProcessSnapshotRow{row(7, e, "UPDATE t SET a = 1")}, now))
			}

			completed := tr.Reconcile(nil, cycle(len(tt.elapsed)+1))
			require.Len(t, completed, 1)
			assert.Equal(t, tt.elapsed[len(tt.elapsed)-1], completed[0].Time)
			assert.Equal(t, firstQualified.Add(-time.Duration(firstElapsed)*time.Second), completed[0].Start)
			assert.Equal(t, cycle(len(tt.elapsed)+1), completed[0].End)
		})
	}
}

func TestReconcileIgnoresShortQueries(t *testing.T) {
	tr := New("db1", 2)
	for i := 1; i <= 5; i++ {
		assert.Empty(t, tr.Reconcile([]models.ProcessSnapshotRow{row(10, 1, "SELECT 1")}, cycle(i)))
		assert.Equal(t, 0, tr.Len())
	}
	assert.Empty(t, tr.Reconcile(nil, cycle(6)))
}

func TestReconcilePIDReuseIsANewQuery(t *testing.T) {
	tr := New("db1", 2)

	tr.Reconcile([]models.ProcessSnapshotRow{row(55, 10, "SELECT a FROM t")}, cycle(1))
	first := tr.Reconcile(nil, cycle(2))
	require.Len(t, first, 1)

	tr.Reconcile([]models.ProcessSnapshotRow{row(55, 3, "SELECT b FROM u")}, cycle(30))
	second := tr.Reconcile(nil, cycle(31))
	require.Len(t, second, 1)

	assert.Equal(t, int64(3), second[0].Time)
	assert.Equal(t, "SELECT b FROM u", second[0].SQLText)
	assert.Equal(t, cycle(30).Add(-3*time.Second), second[0].Start)
	assert.NotEqual(t, first[0].Start, second[0].Start)
}

func TestReconcileOverwritesCleanedStatement(t *testing.T) {
	tr := New("db1", 2)

	tr.Reconcile([]models.ProcessSnapshotRow{row(8, 2, "SELECT *\n\tFROM t WHERE id = 1")}, cycle(1))
	query, ok := tr.Tracked(8)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM t WHERE id = 1", query.Statement)

	tr.Reconcile([]models.ProcessSnapshotRow{row(8, 3, "SELECT *   FROM t WHERE id = 2")}, cycle(2))
	completed := tr.Reconcile(nil, cycle(3))
	require.Len(t, completed, 1)
	assert.Equal(t, "SELECT * FROM t WHERE id = 2", completed[0].SQLText)
}

func TestReconcileStartIsNotAdjusted(t *testing.T) {
	tr := New("db1", 2)

	tr.Reconcile([]models.ProcessSnapshotRow{row(9, 5, "SELECT 1")}, cycle(1))
	// a slow poll makes the observed elapsed jump; the start stays put
	tr.Reconcile([]models.ProcessSnapshotRow{row(9, 20, "SELECT 1")}, cycle(3))

	query, ok := tr.Tracked(9)
	require.True(t, ok)
	assert.Equal(t, cycle(1).Add(-5*time.Second), query.Start)
	assert.Equal(t, int64(20), query.MaxElapsed)
}

func TestReconcileOnlyCompletesAbsentPIDs(t *testing.T) {
	tr := New("db1", 2)

	tr.Reconcile([]models.ProcessSnapshotRow{row(1, 5, "q1"), row(2, 5, "q2"), row(3, 1, "q3")}, cycle(1))
	assert.Equal(t, 2, tr.Len())

	completed := tr.Reconcile([]models.ProcessSnapshotRow{row(2, 6, "q2"), row(3, 2, "q3")}, cycle(2))
	require.Len(t, completed, 1)
	assert.Equal(t, int64(1), completed[0].PID)
	assert.Equal(t, 2, tr.Len())

	completed = tr.Reconcile(nil, cycle(3))
	require.Len(t, completed, 2)
	// ordered by inferred start
	assert.Equal(t, int64(2), completed[0].PID)
	assert.Equal(t, int64(3), completed[1].PID)
}

func TestReconcileTruncatesToWholeSeconds(t *testing.T) {
	tr := New("db1", 2)
	now := cycle(1).Add(730 * time.Millisecond).In(time.FixedZone("KST", 9*3600))

	tr.Reconcile([]models.ProcessSnapshotRow{row(4, 3, "SELECT 1")}, now)
	completed := tr.Reconcile(nil, now.Add(time.Second))

	require.Len(t, completed, 1)
	assert.Equal(t, cycle(1).Add(-3*time.Second), completed[0].Start)
	assert.Equal(t, time.UTC, completed[0].Start.Location())
}

func TestTrackersAreIndependent(t *testing.T) {
	a := New("db1", 2)
	b := New("db2", 2)

	a.Reconcile([]models.ProcessSnapshotRow{row(55, 3, "SELECT 1")}, cycle(1))
	b.Reconcile([]models.ProcessSnapshotRow{row(55, 3, "SELECT 1")}, cycle(1))

	completed := a.Reconcile(nil, cycle(2))
	require.Len(t, completed, 1)
	assert.Equal(t, "db1", completed[0].Instance)
	assert.Equal(t, 1, b.Len())
}
