package constants

import "time"

const (
	CollectorName    = "com.newrelic.mysql-collector"
	CollectorVersion = "0.1.0"
	// TimeoutDuration bounds a single process list, status or store query
	TimeoutDuration = 5 * time.Second
	// StoreTimeoutDuration bounds a single write or read against the persistence store
	StoreTimeoutDuration = 10 * time.Second
	// APIShutdownTimeout is how long in-flight API requests get to finish on shutdown
	APIShutdownTimeout = 5 * time.Second

	DefaultPollInterval            = 1
	DefaultExecTimeThreshold       = 2
	DefaultPoolSize                = 5
	DefaultMaxConnectionRetries    = 3
	DefaultRetryDelay              = 5
	DefaultRegistryRefreshInterval = 60
)

// System schemas are never tracked.
var DefaultExcludedDatabases = []string{"information_schema", "mysql", "performance_schema", "sys"}

// Internal and managed-service users whose statements are never tracked.
var DefaultExcludedUsers = []string{"monitor", "rdsadmin", "system user", "event_scheduler"}
