package slowquerymonitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/dbutils"
	"github.com/newrelic/nri-mysql-collector/src/metrics"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	"github.com/newrelic/nri-mysql-collector/src/scheduler"
	"github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/tracker"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

// PoolProvider hands out the connection pool of an instance.
type PoolProvider interface {
	Get(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error)
	Drop(name string)
}

type Poller interface {
	Poll(ctx context.Context, db utils.DataSource) ([]models.ProcessSnapshotRow, error)
}

// Monitor runs one slow query loop per registered instance.
type Monitor struct {
	registry registry.Registry
	pools    PoolProvider
	poller   Poller
	sink     store.SlowQuerySink
	now      func() time.Time

	pollInterval    time.Duration
	refreshInterval time.Duration
	threshold       int
	ignored         []string

	mu    sync.Mutex
	loops map[string]*instanceLoop
}

type instanceLoop struct {
	descriptor registry.InstanceDescriptor
	tracker    *tracker.Tracker
	cancel     context.CancelFunc
	done       chan struct{}
	// set while the pool of the instance is unavailable so that it is only reported once
	unavailable bool
}

func NewMonitor(args arguments.ArgumentList, reg registry.Registry, pools PoolProvider, poller Poller, sink store.SlowQuerySink) *Monitor {
	return &Monitor{
		registry:        reg,
		pools:           pools,
		poller:          poller,
		sink:            sink,
		now:             time.Now,
		pollInterval:    utils.GetValidPollInterval(args.PollInterval),
		refreshInterval: utils.GetValidRegistryRefreshInterval(args.RegistryRefreshInterval),
		threshold:       utils.GetValidExecTimeThreshold(args.ExecTimeThreshold),
		ignored:         utils.GetIgnoredInstances(args.IgnoredInstances),
		loops:           make(map[string]*instanceLoop),
	}
}

// Run keeps the set of instance loops in line with the registry until ctx is done.
// It returns once every loop has exited; pools are still open at that point.
func (m *Monitor) Run(ctx context.Context) {
	m.Refresh(ctx)

	ticker := time.NewTicker(m.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			log.Info("Slow query monitoring stopped")
			return
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}

// Refresh starts loops for new instances, stops loops of removed ones and restarts loops of
// instances whose descriptor changed. A failed listing keeps the current loops.
func (m *Monitor) Refresh(ctx context.Context) {
	instances, err := m.registry.List(ctx)
	if err != nil {
		log.Error("Error listing instances, keeping %d running loops: %v", m.Running(), err)
		return
	}
	desired := make(map[string]registry.InstanceDescriptor)
	for _, instance := range registry.Filter(instances, m.ignored) {
		desired[instance.InstanceName] = instance
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for name, loop := range m.loops {
		instance, ok := desired[name]
		if ok && instance == loop.descriptor {
			continue
		}
		if ok {
			log.Info("[%s] Instance changed, restarting its loop", name)
		} else {
			log.Info("[%s] Instance removed, stopping its loop", name)
		}
		m.stop(name, loop)
	}

	for name, instance := range desired {
		if _, ok := m.loops[name]; !ok {
			m.start(ctx, instance)
		}
	}
}

// Running returns the number of instance loops.
func (m *Monitor) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}

// start must be called with m.mu held.
func (m *Monitor) start(ctx context.Context, instance registry.InstanceDescriptor) {
	loopCtx, cancel := context.WithCancel(ctx)
	loop := &instanceLoop{
		descriptor: instance,
		tracker:    tracker.New(instance.InstanceName, m.threshold),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	m.loops[instance.InstanceName] = loop

	log.Info("[%s] Starting slow query monitoring of %s:%d", instance.InstanceName, instance.Host, instance.Port)
	go func() {
		defer close(loop.done)
		scheduler.RunEvery(loopCtx, instance.InstanceName, m.pollInterval, func(ctx context.Context) error {
			return m.runCycle(ctx, loop)
		})
	}()
}

// stop must be called with m.mu held. The working set of the loop is discarded.
func (m *Monitor) stop(name string, loop *instanceLoop) {
	loop.cancel()
	<-loop.done
	delete(m.loops, name)
	m.pools.Drop(name)
	metrics.Forget(name)
}

func (m *Monitor) stopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, loop := range m.loops {
		loop.cancel()
	}
	for name, loop := range m.loops {
		<-loop.done
		delete(m.loops, name)
	}
}

// runCycle is one pool, poll, reconcile and persist pass over an instance. A failed poll leaves
// the working set untouched.
func (m *Monitor) runCycle(ctx context.Context, loop *instanceLoop) error {
	name := loop.descriptor.InstanceName
	start := time.Now()
	defer func() {
		metrics.CycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	db, err := m.pools.Get(ctx, loop.descriptor)
	if errors.Is(err, dbutils.ErrInstanceUnavailable) {
		if !loop.unavailable {
			log.Warn("[%s] Instance is unavailable, skipping it: %v", name, err)
			loop.unavailable = true
		}
		metrics.CyclesTotal.WithLabelValues(name, "skipped").Inc()
		return nil
	}
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(name, "error").Inc()
		return err
	}
	loop.unavailable = false

	rows, err := m.poller.Poll(ctx, db)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(name, "error").Inc()
		return err
	}

	completed := loop.tracker.Reconcile(rows, m.now())
	metrics.TrackedQueries.WithLabelValues(name).Set(float64(loop.tracker.Len()))
	for _, query := range completed {
		m.persist(ctx, query)
	}

	metrics.CyclesTotal.WithLabelValues(name, "ok").Inc()
	return nil
}

// persist makes a single attempt; a failed write is logged and the record is lost.
func (m *Monitor) persist(ctx context.Context, query models.CompletedQuery) {
	inserted, err := m.sink.InsertIfAbsent(ctx, query)
	switch {
	case err != nil:
		metrics.CompletedQueriesTotal.WithLabelValues(query.Instance, "error").Inc()
		log.Error("[%s] Error saving slow query pid=%d: %v", query.Instance, query.PID, err)
	case inserted:
		metrics.CompletedQueriesTotal.WithLabelValues(query.Instance, "inserted").Inc()
		log.Info("[%s] Slow query finished: pid=%d time=%ds user=%s db=%s", query.Instance, query.PID, query.Time, query.User, query.DB)
	default:
		metrics.CompletedQueriesTotal.WithLabelValues(query.Instance, "duplicate").Inc()
		log.Debug("[%s] Slow query pid=%d started at %s already recorded", query.Instance, query.PID, query.Start)
	}
}
