package statusmetrics

import "strings"

const (
	UptimeQuery        = "SHOW GLOBAL STATUS LIKE 'Uptime'"
	CommandStatusQuery = "SHOW GLOBAL STATUS LIKE 'Com_%'"
)

// Command counters kept in a command status document, without the Com_ prefix.
var trackedCommands = []string{
	"select", "delete", "delete_multi",
	"insert", "insert_select", "replace",
	"replace_select", "update", "update_multi",
	"flush", "kill", "purge", "admin_commands",
}

// Temporary table and binlog cache counters kept in an IO status sample.
var ioCounters = []string{
	"Binlog_cache_use", "Binlog_cache_disk_use",
	"Created_tmp_tables", "Created_tmp_files", "Created_tmp_disk_tables",
}

// IOStatusQuery selects every IO counter in one round trip.
var IOStatusQuery = "SHOW GLOBAL STATUS WHERE Variable_name IN ('" + strings.Join(ioCounters, "', '") + "')"
