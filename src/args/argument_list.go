package args

import sdk_args "github.com/newrelic/infra-integrations-sdk/v3/args"

type ArgumentList struct {
	sdk_args.DefaultArgumentList
	ShowVersion             bool   `default:"false" help:"Display build information and exit."`
	PollInterval            int    `default:"1" help:"Interval in seconds between two process list snapshots of the same instance."`
	ExecTimeThreshold       int    `default:"2" help:"Minimum elapsed time in seconds for an in-flight statement to be tracked as a slow query."`
	PoolSize                int    `default:"5" help:"Maximum number of open connections per monitored instance."`
	MaxConnectionRetries    int    `default:"3" help:"Number of attempts to create the connection pool of an instance before giving up on it."`
	RetryDelay              int    `default:"5" help:"Delay in seconds between two connection pool creation attempts."`
	RegistryRefreshInterval int    `default:"60" help:"Interval in seconds between two reloads of the instance registry."`
	IgnoredInstances        string `default:"[]" help:"A JSON array of instance names that are never monitored."`
	ExtraConnectionURLArgs  string `help:"Additional connection parameters in the format attr1=val1&attr2=val2."` // https://github.com/go-sql-driver/mysql#parameters
	EnableTLS               bool   `default:"false" help:"Use a secure (TLS) connection to monitored instances."`
	InsecureSkipVerify      bool   `default:"false" help:"Skip TLS certificate verification when connecting."`

	StoreBackend                   string `default:"mongodb" help:"Persistence backend for collected data: mongodb or mysql."`
	MongodbURI                     string `help:"MongoDB connection string of the persistence store."`
	MongodbDBName                  string `default:"mysql_monitor" help:"MongoDB database holding the collected data."`
	MongodbSlowlogCollection       string `default:"slow_queries" help:"Collection for completed slow queries."`
	MongodbStatusCollection        string `default:"command_status" help:"Collection for command counter snapshots."`
	MongodbDiskUsageCollection     string `default:"disk_usage" help:"Collection for temporary table and binlog cache samples."`
	MongodbAuroraInfoCollection    string `default:"aurora_cluster_info" help:"Collection for Aurora topology documents."`
	MongodbAuroraMetricsCollection string `default:"aurora_metrics" help:"Collection for CloudWatch metric samples."`
	MongodbInstanceCollection      string `default:"rds_instance_list" help:"Collection holding the instance registry when registry_source is mongodb."`
	StoreDSN                       string `help:"MySQL DSN of the persistence store when store_backend is mysql."`

	RegistrySource string `default:"file" help:"Where monitored instances are registered: file or mongodb."`
	RegistryFile   string `default:"rds_instances.json" help:"Path of the JSON instance registry when registry_source is file."`
	AesKey         string `help:"URL-safe base64 encoded 32 byte AES key used to decrypt stored passwords."`
	AesIv          string `help:"URL-safe base64 encoded 16 byte AES IV used to decrypt stored passwords."`

	EnableCommandStatus   bool   `default:"true" help:"Enable periodic collection of command counters."`
	CommandStatusSchedule string `default:"0 * * * * * *" help:"Cron expression (with seconds) for command counter collection."`
	EnableAuroraMetrics   bool   `default:"false" help:"Enable collection of Aurora topology and CloudWatch metrics."`
	AuroraMetricsSchedule string `default:"0 */5 * * * * *" help:"Cron expression (with seconds) for Aurora collection."`
	AwsAccessKeyID        string `help:"AWS access key id. The default credential chain is used when empty."`
	AwsSecretAccessKey    string `help:"AWS secret access key."`

	APIListenAddress string `default:":8000" help:"Listen address of the read API. Empty disables the API."`
}
