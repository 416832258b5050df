package statusmetrics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	"github.com/newrelic/nri-mysql-collector/src/models"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
	utils "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/utils"
)

var ErrUptimeNotFound = errors.New("uptime not found in global status")

// queryStatus runs a two column SHOW STATUS query and maps variable names to their integer values.
// Non numeric values are skipped.
func queryStatus(ctx context.Context, db utils.DataSource, query string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.TimeoutDuration)
	defer cancel()

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	status := make(map[string]int64)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			log.Debug("Skipping non numeric status %s=%q", name, value)
			continue
		}
		status[name] = parsed
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return status, nil
}

func queryUptime(ctx context.Context, db utils.DataSource) (int64, error) {
	status, err := queryStatus(ctx, db, UptimeQuery)
	if err != nil {
		return 0, fmt.Errorf("could not retrieve uptime: %w", err)
	}
	uptime, ok := status["Uptime"]
	if !ok {
		return 0, ErrUptimeNotFound
	}
	return uptime, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// averages returns the per hour and per second rate of a counter over the server uptime.
// Both divisors are floored at one.
func averages(total, uptime int64) (float64, float64) {
	hours := math.Max(float64(uptime)/3600, 1)
	seconds := math.Max(float64(uptime), 1)
	return round2(float64(total) / hours), round2(float64(total) / seconds)
}

// ProcessCommandStatus breaks the tracked non zero Com_* counters down, largest first.
func ProcessCommandStatus(raw map[string]int64, uptime int64) []models.CommandCounter {
	var sum int64
	for _, command := range trackedCommands {
		sum += raw["Com_"+command]
	}

	counters := []models.CommandCounter{}
	for _, command := range trackedCommands {
		total := raw["Com_"+command]
		if total == 0 {
			continue
		}
		perHour, perSecond := averages(total, uptime)
		counter := models.CommandCounter{
			Command:       command,
			Total:         total,
			AvgForHours:   perHour,
			AvgForSeconds: perSecond,
		}
		if sum > 0 {
			counter.Percentage = round2(float64(total) / float64(sum) * 100)
		}
		counters = append(counters, counter)
	}
	sortByTotal(counters)
	return counters
}

// ProcessIOStatus is ProcessCommandStatus for the IO counters, without percentages.
func ProcessIOStatus(raw map[string]int64, uptime int64) []models.CommandCounter {
	counters := []models.CommandCounter{}
	for _, name := range ioCounters {
		total := raw[name]
		if total == 0 {
			continue
		}
		perHour, perSecond := averages(total, uptime)
		counters = append(counters, models.CommandCounter{
			Command:       name,
			Total:         total,
			AvgForHours:   perHour,
			AvgForSeconds: perSecond,
		})
	}
	sortByTotal(counters)
	return counters
}

func sortByTotal(counters []models.CommandCounter) {
	sort.SliceStable(counters, func(i, j int) bool {
		if counters[i].Total != counters[j].Total {
			return counters[i].Total > counters[j].Total
		}
		return strings.Compare(counters[i].Command, counters[j].Command) < 0
	})
}
