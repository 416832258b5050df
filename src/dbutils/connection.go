package dbutils

import (
	"net"
	"net/url"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/newrelic/infra-integrations-sdk/v3/log"
	arguments "github.com/newrelic/nri-mysql-collector/src/args"
	"github.com/newrelic/nri-mysql-collector/src/registry"
)

// GenerateDSN generates a data source name (DSN) string for connecting to a monitored instance.
func GenerateDSN(args arguments.ArgumentList, instance registry.InstanceDescriptor, password string) string {
	query := url.Values{}
	if args.EnableTLS {
		query.Add("tls", "true")
	}
	if args.InsecureSkipVerify {
		query.Add("tls", "skip-verify")
	}
	extraArgsMap, err := url.ParseQuery(args.ExtraConnectionURLArgs)
	if err == nil {
		for k, v := range extraArgsMap {
			query.Add(k, v[0])
		}
	} else {
		log.Warn("Could not successfully parse ExtraConnectionURLArgs: %v", err)
	}

	port := instance.Port
	if port == 0 {
		port = registry.DefaultPort
	}

	cfg := mysql.NewConfig()
	cfg.User = instance.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(instance.Host, strconv.Itoa(port))
	cfg.DBName = instance.DB
	dsn := cfg.FormatDSN()

	if len(query) > 0 {
		dsn += "?" + query.Encode()
	}
	return dsn
}
