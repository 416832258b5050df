// Package poller takes process list snapshots of a monitored instance.
package poller

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	"github.com/newrelic/nri-mysql-collector/src/models"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
)

type processListRow struct {
	PID  sql.NullInt64  `db:"pid"`
	DB   sql.NullString `db:"db"`
	User sql.NullString `db:"user"`
	Host sql.NullString `db:"host"`
	Time sql.NullInt64  `db:"time"`
	Info sql.NullString `db:"info"`
}

// ProcessListPoller reads information_schema.PROCESSLIST. It holds no state between calls.
type ProcessListPoller struct {
	query string
	args  []interface{}
}

func NewProcessListPoller() (*ProcessListPoller, error) {
	query, args, err := utils.ProcessListQuery()
	if err != nil {
		return nil, fmt.Errorf("failed to prepare process list query: %w", err)
	}
	return &ProcessListPoller{query: query, args: args}, nil
}

// Poll returns the in-flight statements of one instance. Errors are returned to the caller, never retried.
func (p *ProcessListPoller) Poll(ctx context.Context, db utils.DataSource) ([]models.ProcessSnapshotRow, error) {
	rows, err := utils.CollectMetrics[processListRow](ctx, db, p.query, p.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query process list: %w", err)
	}

	snapshot := make([]models.ProcessSnapshotRow, 0, len(rows))
	for _, row := range rows {
		if !row.PID.Valid || !row.Time.Valid || !row.Info.Valid || row.Time.Int64 < 0 {
			log.Debug("Skipping malformed process list row: pid=%v time=%v", row.PID, row.Time)
			continue
		}
		snapshot = append(snapshot, models.ProcessSnapshotRow{
			PID:  row.PID.Int64,
			DB:   row.DB.String,
			User: row.User.String,
			Host: row.Host.String,
			Time: row.Time.Int64,
			Info: row.Info.String,
		})
	}
	return snapshot, nil
}
