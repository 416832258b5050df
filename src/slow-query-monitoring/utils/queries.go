package utils

import (
	"github.com/jmoiron/sqlx"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
)

const (
	/*
		ProcessList: Captures every statement currently executing on the instance.
		Sessions without a statement, system schemas and internal users are left out.
		Longest running statements come first.
	*/
	ProcessList = `
		SELECT
			ID AS pid,
			DB AS db,
			USER AS user,
			HOST AS host,
			TIME AS time,
			INFO AS info
		FROM information_schema.PROCESSLIST
		WHERE INFO IS NOT NULL
			AND (DB IS NULL OR DB NOT IN (?))
			AND USER NOT IN (?)
		ORDER BY TIME DESC;
	`
)

// ProcessListQuery expands the exclusion lists of ProcessList into bind parameters.
func ProcessListQuery() (string, []interface{}, error) {
	return sqlx.In(ProcessList,
		ConvertToInterfaceSlice(constants.DefaultExcludedDatabases),
		ConvertToInterfaceSlice(constants.DefaultExcludedUsers),
	)
}
