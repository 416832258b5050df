package aurora

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/metrics"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

const (
	metricWindow = 5 * time.Minute
	metricPeriod = 300
)

// InstanceMetrics are read from the AWS/RDS namespace for every instance.
var InstanceMetrics = []string{
	"CPUUtilization",
	"DatabaseConnections",
	"FreeableMemory",
	"ReadIOPS",
	"WriteIOPS",
	"ReadLatency",
	"WriteLatency",
}

type MetricsCollector struct {
	registry registry.Registry
	clients  Clients
	store    store.AuroraStore
	ignored  []string
	now      func() time.Time
}

func NewMetricsCollector(args arguments.ArgumentList, reg registry.Registry, clients Clients, st store.AuroraStore) *MetricsCollector {
	return &MetricsCollector{
		registry: reg,
		clients:  clients,
		store:    st,
		ignored:  utils.GetIgnoredInstances(args.IgnoredInstances),
		now:      time.Now,
	}
}

func (c *MetricsCollector) Run(ctx context.Context) {
	instances, err := c.registry.List(ctx)
	if err != nil {
		log.Error("Error listing instances for CloudWatch metrics: %v", err)
		metrics.CollectorErrorsTotal.WithLabelValues("aurora_metrics", "").Inc()
		return
	}

	var wg sync.WaitGroup
	for _, instance := range registry.Filter(instances, c.ignored) {
		wg.Add(1)
		go func(instance registry.InstanceDescriptor) {
			defer wg.Done()
			if err := c.CollectInstance(ctx, instance); err != nil {
				log.Error("[%s] Failed to collect CloudWatch metrics: %v", instance.InstanceName, err)
				metrics.CollectorErrorsTotal.WithLabelValues("aurora_metrics", instance.InstanceName).Inc()
			}
		}(instance)
	}
	wg.Wait()
}

// CollectInstance stores the newest datapoint of each metric. A metric that fails or has no
// datapoint in the window is skipped.
func (c *MetricsCollector) CollectInstance(ctx context.Context, instance registry.InstanceDescriptor) error {
	svc, err := c.clients.CloudWatch(instance.Region)
	if err != nil {
		return fmt.Errorf("error creating CloudWatch client: %w", err)
	}

	end := c.now().UTC()
	var samples []models.MetricSample
	for _, name := range InstanceMetrics {
		value, ok, err := LatestAverage(ctx, svc, instance.InstanceName, name, end)
		if err != nil {
			log.Warn("[%s] Error fetching metric %s: %v", instance.InstanceName, name, err)
			continue
		}
		if !ok {
			log.Debug("[%s] No datapoint for metric %s", instance.InstanceName, name)
			continue
		}
		samples = append(samples, models.MetricSample{
			Region:       instance.Region,
			InstanceName: instance.InstanceName,
			MetricName:   name,
			Value:        value,
			Timestamp:    end,
		})
	}
	return c.store.InsertMetricSamples(ctx, samples)
}

// LatestAverage returns the average of the newest datapoint of a metric in the window ending at end.
func LatestAverage(ctx context.Context, svc cloudwatchiface.CloudWatchAPI, instanceID, metricName string, end time.Time) (float64, bool, error) {
	resp, err := svc.GetMetricStatisticsWithContext(ctx, &cloudwatch.GetMetricStatisticsInput{
		EndTime:    aws.Time(end),
		MetricName: aws.String(metricName),
		Namespace:  aws.String("AWS/RDS"),
		Period:     aws.Int64(metricPeriod),
		StartTime:  aws.Time(end.Add(-metricWindow)),
		Statistics: []*string{
			aws.String(cloudwatch.StatisticAverage),
		},
		Dimensions: []*cloudwatch.Dimension{
			{
				Name:  aws.String("DBInstanceIdentifier"),
				Value: aws.String(instanceID),
			},
		},
	})
	if err != nil {
		return 0, false, err
	}

	datapoints := make([]*cloudwatch.Datapoint, 0, len(resp.Datapoints))
	for _, dp := range resp.Datapoints {
		if dp != nil && dp.Average != nil {
			datapoints = append(datapoints, dp)
		}
	}
	if len(datapoints) == 0 {
		return 0, false, nil
	}
	sort.Slice(datapoints, func(i, j int) bool {
		return aws.TimeValue(datapoints[i].Timestamp).After(aws.TimeValue(datapoints[j].Timestamp))
	})
	return *datapoints[0].Average, true, nil
}
