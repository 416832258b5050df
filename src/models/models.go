package models

import "time"

// ProcessSnapshotRow is one in-flight statement observed in information_schema.PROCESSLIST.
// PID is only unique within the instance it was read from.
type ProcessSnapshotRow struct {
	PID  int64
	DB   string
	User string
	Host string
	// Time is the elapsed execution time in seconds at observation time.
	Time int64
	Info string
}

// CompletedQuery is the durable record of one finished slow query.
// (Instance, PID, Start) is the dedup key.
type CompletedQuery struct {
	Instance string    `json:"instance" bson:"instance" db:"instance"`
	DB       string    `json:"db" bson:"db" db:"db"`
	PID      int64     `json:"pid" bson:"pid" db:"pid"`
	User     string    `json:"user" bson:"user" db:"user"`
	Host     string    `json:"host" bson:"host" db:"host"`
	Time     int64     `json:"time" bson:"time" db:"time"`
	SQLText  string    `json:"sql_text" bson:"sql_text" db:"sql_text"`
	Start    time.Time `json:"start" bson:"start" db:"start"`
	End      time.Time `json:"end" bson:"end" db:"end"`
}

// CommandCounter is the per-command breakdown of a Com_* status counter.
type CommandCounter struct {
	Command       string  `json:"command" bson:"command"`
	Total         int64   `json:"total" bson:"total"`
	AvgForHours   float64 `json:"avgForHours" bson:"avgForHours"`
	AvgForSeconds float64 `json:"avgForSeconds" bson:"avgForSeconds"`
	Percentage    float64 `json:"percentage" bson:"percentage"`
}

// CommandStatus is the latest command counter snapshot of one instance.
type CommandStatus struct {
	InstanceName string           `json:"instance_name" bson:"instance_name"`
	Timestamp    time.Time        `json:"timestamp" bson:"timestamp"`
	Commands     []CommandCounter `json:"command_status" bson:"command_status"`
}

// IOStatus is one sample of temporary table and binlog cache counters.
type IOStatus struct {
	InstanceName string           `json:"instance_name" bson:"instance_name"`
	Timestamp    time.Time        `json:"timestamp" bson:"timestamp"`
	Counters     []CommandCounter `json:"command_status" bson:"command_status"`
}

// ClusterInfo describes an RDS instance and the Aurora cluster it belongs to.
type ClusterInfo struct {
	Region               string     `json:"region" bson:"region"`
	DBClusterIdentifier  string     `json:"DBClusterIdentifier" bson:"DBClusterIdentifier"`
	DBInstanceIdentifier string     `json:"DBInstanceIdentifier" bson:"DBInstanceIdentifier"`
	MultiAZ              bool       `json:"MultiAZ" bson:"MultiAZ"`
	IsClusterWriter      bool       `json:"IsClusterWriter" bson:"IsClusterWriter"`
	EngineVersion        string     `json:"EngineVersion" bson:"EngineVersion"`
	DBInstanceClass      string     `json:"DBInstanceClass" bson:"DBInstanceClass"`
	AvailabilityZone     string     `json:"AvailabilityZone" bson:"AvailabilityZone"`
	DBInstanceStatus     string     `json:"DBInstanceStatus" bson:"DBInstanceStatus"`
	DeletionProtection   bool       `json:"DeletionProtection" bson:"DeletionProtection"`
	ClusterCreateTime    *time.Time `json:"ClusterCreateTime" bson:"ClusterCreateTime"`
	InstanceCreateTime   *time.Time `json:"InstanceCreateTime" bson:"InstanceCreateTime"`
	Environment          string     `json:"Environment" bson:"Environment"`
}

// MetricSample is one CloudWatch datapoint for an instance.
type MetricSample struct {
	Region       string    `json:"region" bson:"region" db:"region"`
	InstanceName string    `json:"instance_name" bson:"instance_name" db:"instance_name"`
	MetricName   string    `json:"metric_name" bson:"metric_name" db:"metric_name"`
	Value        float64   `json:"value" bson:"value" db:"value"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp" db:"timestamp"`
}

// SlowQueryStat aggregates the recorded slow queries of one (instance, db, user).
type SlowQueryStat struct {
	Instance  string `json:"instance" bson:"instance" db:"instance"`
	DB        string `json:"db" bson:"db" db:"db"`
	User      string `json:"user" bson:"user" db:"user"`
	Count     int64  `json:"count" bson:"count" db:"count"`
	MaxTime   int64  `json:"max_time" bson:"max_time" db:"max_time"`
	TotalTime int64  `json:"total_time" bson:"total_time" db:"total_time"`
}
