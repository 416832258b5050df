package aurora

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/rds"
	"github.com/aws/aws-sdk-go/service/rds/rdsiface"
	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/metrics"
	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

const environmentTag = "ENVIRONMENT"

var ErrInstanceNotFound = errors.New("RDS instance not found")

type ClusterInfoCollector struct {
	registry registry.Registry
	clients  Clients
	store    store.AuroraStore
	ignored  []string
}

func NewClusterInfoCollector(args arguments.ArgumentList, reg registry.Registry, clients Clients, st store.AuroraStore) *ClusterInfoCollector {
	return &ClusterInfoCollector{
		registry: reg,
		clients:  clients,
		store:    st,
		ignored:  utils.GetIgnoredInstances(args.IgnoredInstances),
	}
}

func (c *ClusterInfoCollector) Run(ctx context.Context) {
	instances, err := c.registry.List(ctx)
	if err != nil {
		log.Error("Error listing instances for cluster info: %v", err)
		metrics.CollectorErrorsTotal.WithLabelValues("aurora_cluster_info", "").Inc()
		return
	}

	var wg sync.WaitGroup
	for _, instance := range registry.Filter(instances, c.ignored) {
		wg.Add(1)
		go func(instance registry.InstanceDescriptor) {
			defer wg.Done()
			if err := c.CollectInstance(ctx, instance); err != nil {
				log.Error("[%s] Failed to collect cluster info: %v", instance.InstanceName, err)
				metrics.CollectorErrorsTotal.WithLabelValues("aurora_cluster_info", instance.InstanceName).Inc()
			}
		}(instance)
	}
	wg.Wait()
}

func (c *ClusterInfoCollector) CollectInstance(ctx context.Context, instance registry.InstanceDescriptor) error {
	svc, err := c.clients.RDS(instance.Region)
	if err != nil {
		return fmt.Errorf("error creating RDS client: %w", err)
	}
	info, err := FetchClusterInfo(ctx, svc, instance.Region, instance.InstanceName)
	if err != nil {
		return err
	}
	return c.store.UpsertClusterInfo(ctx, info)
}

// FetchClusterInfo describes an RDS instance and, when it is a cluster member, its cluster.
func FetchClusterInfo(ctx context.Context, svc rdsiface.RDSAPI, region, instanceID string) (models.ClusterInfo, error) {
	instances, err := svc.DescribeDBInstancesWithContext(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if isNotFound(err, rds.ErrCodeDBInstanceNotFoundFault) || (err == nil && len(instances.DBInstances) == 0) {
		return models.ClusterInfo{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	if err != nil {
		return models.ClusterInfo{}, fmt.Errorf("error describing instance: %w", err)
	}
	db := instances.DBInstances[0]

	info := models.ClusterInfo{
		Region:               region,
		DBClusterIdentifier:  aws.StringValue(db.DBClusterIdentifier),
		DBInstanceIdentifier: aws.StringValue(db.DBInstanceIdentifier),
		EngineVersion:        aws.StringValue(db.EngineVersion),
		DBInstanceClass:      aws.StringValue(db.DBInstanceClass),
		AvailabilityZone:     aws.StringValue(db.AvailabilityZone),
		DBInstanceStatus:     aws.StringValue(db.DBInstanceStatus),
		InstanceCreateTime:   db.InstanceCreateTime,
	}
	if info.DBClusterIdentifier == "" {
		return info, nil
	}

	clusters, err := svc.DescribeDBClustersWithContext(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: db.DBClusterIdentifier,
	})
	if err != nil {
		return models.ClusterInfo{}, fmt.Errorf("error describing cluster %s: %w", info.DBClusterIdentifier, err)
	}
	if len(clusters.DBClusters) == 0 {
		return models.ClusterInfo{}, fmt.Errorf("cluster %s not found", info.DBClusterIdentifier)
	}
	cluster := clusters.DBClusters[0]

	info.MultiAZ = aws.BoolValue(cluster.MultiAZ)
	info.DeletionProtection = aws.BoolValue(cluster.DeletionProtection)
	info.ClusterCreateTime = cluster.ClusterCreateTime
	for _, member := range cluster.DBClusterMembers {
		if aws.StringValue(member.DBInstanceIdentifier) == instanceID {
			info.IsClusterWriter = aws.BoolValue(member.IsClusterWriter)
			break
		}
	}
	for _, tag := range cluster.TagList {
		if aws.StringValue(tag.Key) == environmentTag {
			info.Environment = aws.StringValue(tag.Value)
			break
		}
	}
	return info, nil
}

func isNotFound(err error, code string) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == code
}
