// Package statusmetrics collects command counters and temporary table and binlog cache counters
// of every registered instance.
package statusmetrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/dbutils"
	"github.com/newrelic/nri-mysql-collector/src/metrics"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

const collectorName = "command_status"

type PoolProvider interface {
	Get(ctx context.Context, instance registry.InstanceDescriptor) (utils.DataSource, error)
}

type Collector struct {
	registry registry.Registry
	pools    PoolProvider
	store    store.StatusStore
	ignored  []string
	now      func() time.Time
}

func NewCollector(args arguments.ArgumentList, reg registry.Registry, pools PoolProvider, st store.StatusStore) *Collector {
	return &Collector{
		registry: reg,
		pools:    pools,
		store:    st,
		ignored:  utils.GetIgnoredInstances(args.IgnoredInstances),
		now:      time.Now,
	}
}

// Run collects every registered instance concurrently and returns when all are done.
func (c *Collector) Run(ctx context.Context) {
	instances, err := c.registry.List(ctx)
	if err != nil {
		log.Error("Error listing instances for command status: %v", err)
		metrics.CollectorErrorsTotal.WithLabelValues(collectorName, "").Inc()
		return
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, instance := range registry.Filter(instances, c.ignored) {
		wg.Add(1)
		go func(instance registry.InstanceDescriptor) {
			defer wg.Done()
			err := c.CollectInstance(ctx, instance)
			switch {
			case errors.Is(err, dbutils.ErrInstanceUnavailable):
				log.Debug("[%s] Skipping command status of unavailable instance", instance.InstanceName)
			case err != nil:
				log.Error("[%s] Failed to collect command status: %v", instance.InstanceName, err)
				metrics.CollectorErrorsTotal.WithLabelValues(collectorName, instance.InstanceName).Inc()
			}
		}(instance)
	}
	wg.Wait()
	log.Debug("Completed command status collection in %v", time.Since(start))
}

// CollectInstance stores the latest command status and appends an IO status sample for one instance.
func (c *Collector) CollectInstance(ctx context.Context, instance registry.InstanceDescriptor) error {
	db, err := c.pools.Get(ctx, instance)
	if err != nil {
		return err
	}

	uptime, err := queryUptime(ctx, db)
	if err != nil {
		return err
	}
	now := c.now().UTC()

	commands, err := queryStatus(ctx, db, CommandStatusQuery)
	if err != nil {
		return fmt.Errorf("could not retrieve global status: %w", err)
	}
	if err := c.store.UpsertCommandStatus(ctx, models.CommandStatus{
		InstanceName: instance.InstanceName,
		Timestamp:    now,
		Commands:     ProcessCommandStatus(commands, uptime),
	}); err != nil {
		return err
	}

	counters, err := queryStatus(ctx, db, IOStatusQuery)
	if err != nil {
		return fmt.Errorf("could not retrieve IO status: %w", err)
	}
	if len(counters) == 0 {
		log.Debug("[%s] No IO counters reported", instance.InstanceName)
		return nil
	}
	return c.store.InsertIOStatus(ctx, models.IOStatus{
		InstanceName: instance.InstanceName,
		Timestamp:    now,
		Counters:     ProcessIOStatus(counters, uptime),
	})
}
