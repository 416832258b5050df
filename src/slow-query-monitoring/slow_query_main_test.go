package slowquerymonitoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/dbutils"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	"github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/tracker"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDataSource struct {
	name string
}

func (f *fakeDataSource) Close() {}

func (f *fakeDataSource) PingContext(context.Context) error { return nil }

func (f *fakeDataSource) QueryxContext(context.Context, string, ...interface{}) (*sqlx.Rows, error) {
	return nil, nil
}

type fakePools struct {
	mu          sync.Mutex
	unavailable map[string]bool
	dropped     []string
}

func (p *fakePools) Get(_ context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable[instance.InstanceName] {
		return nil, fmt.Errorf("%w: %s", dbutils.ErrInstanceUnavailable, instance.InstanceName)
	}
	return &fakeDataSource{name: instance.InstanceName}, nil
}

func (p *fakePools) Drop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = append(p.dropped, name)
}

// scriptedPoller replays one snapshot per call and instance; an instance listed in failing always errors.
type scriptedPoller struct {
	mu      sync.Mutex
	scripts map[string][][]models.ProcessSnapshotRow
	failing map[string]bool
	calls   map[string]int
}

func (p *scriptedPoller) Poll(_ context.Context, db utils.DataSource) ([]models.ProcessSnapshotRow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := db.(*fakeDataSource).name
	n := p.calls[name]
	p.calls[name]++
	if p.failing[name] {
		return nil, fmt.Errorf("connection to %s lost", name)
	}
	script := p.scripts[name]
	if len(script) == 0 {
		return nil, nil
	}
	return script[n%len(script)], nil
}

func (p *scriptedPoller) Calls(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

type memorySink struct {
	mu      sync.Mutex
	records map[string]models.CompletedQuery
	order   []models.CompletedQuery
	failing bool
}

func newMemorySink() *memorySink {
	return &memorySink{records: make(map[string]models.CompletedQuery)}
}

func (s *memorySink) InsertIfAbsent(_ context.Context, q models.CompletedQuery) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return false, assert.AnError
	}
	key := fmt.Sprintf("%s/%d/%d", q.Instance, q.PID, q.Start.Unix())
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = q
	s.order = append(s.order, q)
	return true, nil
}

func (s *memorySink) Query(context.Context, string, time.Time, time.Time) ([]models.CompletedQuery, error) {
	return nil, nil
}

func (s *memorySink) Statistics(context.Context) ([]models.SlowQueryStat, error) {
	return nil, nil
}

func (s *memorySink) ForInstance(instance string) []models.CompletedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CompletedQuery
	for _, q := range s.order {
		if q.Instance == instance {
			out = append(out, q)
		}
	}
	return out
}

type staticRegistry struct {
	mu        sync.Mutex
	instances []registry.InstanceDescriptor
	err       error
}

func (r *staticRegistry) List(context.Context) ([]registry.InstanceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.InstanceDescriptor(nil), r.instances...), r.err
}

func (r *staticRegistry) Set(instances []registry.InstanceDescriptor, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances, r.err = instances, err
}

func descriptor(name string) registry.InstanceDescriptor {
	return registry.InstanceDescriptor{InstanceName: name, Host: name + ".local", Port: 3306, User: "monitor_ro", Password: "enc"}
}

func snapshotRow(pid, elapsed int64) models.ProcessSnapshotRow {
	return models.ProcessSnapshotRow{PID: pid, DB: "orders", User: "app", Host: "10.0.0.1:5123", Time: elapsed, Info: "SELECT SLEEP(10)"}
}

// clock advances one second per call.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestMonitor(reg registry.Registry, pools PoolProvider, poller Poller, sink *memorySink) *Monitor {
	return NewMonitor(arguments.ArgumentList{
		PollInterval:            1,
		ExecTimeThreshold:       2,
		RegistryRefreshInterval: 60,
		IgnoredInstances:        `["ignored"]`,
	}, reg, pools, poller, sink)
}

func newLoop(m *Monitor, name string) *instanceLoop {
	return &instanceLoop{descriptor: descriptor(name), tracker: tracker.New(name, m.threshold)}
}

func TestRunCycleEmitsCompletedQuery(t *testing.T) {
	poller := &scriptedPoller{
		calls: map[string]int{},
		scripts: map[string][][]models.ProcessSnapshotRow{
			"db1": {{snapshotRow(55, 3)}, {snapshotRow(55, 4)}, {}},
		},
	}
	sink := newMemorySink()
	m := newTestMonitor(&staticRegistry{}, &fakePools{}, poller, sink)
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	m.now = c.Now

	loop := newLoop(m, "db1")
	for i := 0; i < 3; i++ {
		require.NoError(t, m.runCycle(context.Background(), loop))
	}

	records := sink.ForInstance("db1")
	require.Len(t, records, 1)
	cycle1 := time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC)
	assert.Equal(t, int64(55), records[0].PID)
	assert.Equal(t, int64(4), records[0].Time)
	assert.Equal(t, cycle1.Add(-3*time.Second), records[0].Start)
	assert.Equal(t, cycle1.Add(2*time.Second), records[0].End)
}

func TestRunCycleFaultIsolation(t *testing.T) {
	script := [][]models.ProcessSnapshotRow{{snapshotRow(7, 2)}, {snapshotRow(7, 3)}, {}}

	run := func(poller *scriptedPoller) []models.CompletedQuery {
		sink := newMemorySink()
		m := newTestMonitor(&staticRegistry{}, &fakePools{}, poller, sink)
		c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
		m.now = c.Now

		a, b := newLoop(m, "dbA"), newLoop(m, "dbB")
		for i := 0; i < 10; i++ {
			if poller.failing["dbA"] {
				assert.Error(t, m.runCycle(context.Background(), a))
			}
			require.NoError(t, m.runCycle(context.Background(), b))
		}
		return sink.ForInstance("dbB")
	}

	alone := run(&scriptedPoller{calls: map[string]int{}, scripts: map[string][][]models.ProcessSnapshotRow{"dbB": script}})
	withFailingA := run(&scriptedPoller{
		calls:   map[string]int{},
		scripts: map[string][][]models.ProcessSnapshotRow{"dbB": script},
		failing: map[string]bool{"dbA": true},
	})

	require.Len(t, alone, 3)
	assert.Equal(t, alone, withFailingA)
}

func TestRunCycleFailedPollKeepsWorkingSet(t *testing.T) {
	poller := &scriptedPoller{
		calls:   map[string]int{},
		scripts: map[string][][]models.ProcessSnapshotRow{"db1": {{snapshotRow(55, 3)}}},
	}
	sink := newMemorySink()
	m := newTestMonitor(&staticRegistry{}, &fakePools{}, poller, sink)
	loop := newLoop(m, "db1")

	require.NoError(t, m.runCycle(context.Background(), loop))
	assert.Equal(t, 1, loop.tracker.Len())

	poller.failing = map[string]bool{"db1": true}
	assert.Error(t, m.runCycle(context.Background(), loop))
	assert.Equal(t, 1, loop.tracker.Len())
	assert.Empty(t, sink.ForInstance("db1"))
}

func TestRunCycleSkipsUnavailableInstance(t *testing.T) {
	poller := &scriptedPoller{calls: map[string]int{}}
	m := newTestMonitor(&staticRegistry{}, &fakePools{unavailable: map[string]bool{"db1": true}}, poller, newMemorySink())
	loop := newLoop(m, "db1")

	for i := 0; i < 3; i++ {
		assert.NoError(t, m.runCycle(context.Background(), loop))
	}
	assert.True(t, loop.unavailable)
	assert.Equal(t, 0, poller.Calls("db1"))
}

func TestRunCyclePersistErrorIsNotRetried(t *testing.T) {
	poller := &scriptedPoller{
		calls:   map[string]int{},
		// one entry per cycle so that the script does not wrap back to pid 55
		scripts: map[string][][]models.ProcessSnapshotRow{"db1": {{snapshotRow(55, 3)}, {}, {}, {}}},
	}
	sink := newMemorySink()
	sink.failing = true
	m := newTestMonitor(&staticRegistry{}, &fakePools{}, poller, sink)
	loop := newLoop(m, "db1")

	for i := 0; i < 3; i++ {
		require.NoError(t, m.runCycle(context.Background(), loop))
	}
	sink.failing = false
	require.NoError(t, m.runCycle(context.Background(), loop))

	assert.Empty(t, sink.ForInstance("db1"))
	assert.Equal(t, 0, loop.tracker.Len())
	assert.Equal(t, 4, poller.Calls("db1"))
}

func TestRefreshFollowsRegistry(t *testing.T) {
	reg := &staticRegistry{}
	reg.Set([]registry.InstanceDescriptor{descriptor("db1"), descriptor("db2"), descriptor("ignored")}, nil)
	pools := &fakePools{}
	m := newTestMonitor(reg, pools, &scriptedPoller{calls: map[string]int{}}, newMemorySink())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Refresh(ctx)
	assert.Equal(t, 2, m.Running())

	// a failed listing keeps what is running
	reg.Set(nil, assert.AnError)
	m.Refresh(ctx)
	assert.Equal(t, 2, m.Running())

	changed := descriptor("db2")
	changed.Host = "db2-new.local"
	reg.Set([]registry.InstanceDescriptor{changed, descriptor("db3")}, nil)
	m.Refresh(ctx)
	assert.Equal(t, 2, m.Running())
	assert.ElementsMatch(t, []string{"db1", "db2"}, pools.dropped)

	m.mu.Lock()
	assert.Equal(t, "db2-new.local", m.loops["db2"].descriptor.Host)
	_, ok := m.loops["db1"]
	m.mu.Unlock()
	assert.False(t, ok)

	cancel()
	m.stopAll()
	assert.Equal(t, 0, m.Running())
}

func TestRunIsolatesFailingInstance(t *testing.T) {
	reg := &staticRegistry{}
	reg.Set([]registry.InstanceDescriptor{descriptor("dbA"), descriptor("dbB")}, nil)
	poller := &scriptedPoller{
		calls:   map[string]int{},
		scripts: map[string][][]models.ProcessSnapshotRow{"dbB": {{snapshotRow(7, 5)}, {}}},
		failing: map[string]bool{"dbA": true},
	}
	sink := newMemorySink()
	m := newTestMonitor(reg, &fakePools{}, poller, sink)
	m.pollInterval = time.Millisecond
	c := &clock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	m.now = c.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		return poller.Calls("dbA") >= 10 && len(sink.ForInstance("dbB")) >= 3
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Equal(t, 0, m.Running())
	assert.Empty(t, sink.ForInstance("dbA"))
}
