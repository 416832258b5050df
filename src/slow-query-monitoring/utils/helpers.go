package utils

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/newrelic/infra-integrations-sdk/v3/log"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
)

// GetIgnoredInstances parses the ignored instance list from a JSON string.
// An invalid list is treated as empty.
func GetIgnoredInstances(ignoredInstancesList string) []string {
	if strings.TrimSpace(ignoredInstancesList) == "" {
		return []string{}
	}

	var ignored []string
	if err := json.Unmarshal([]byte(ignoredInstancesList), &ignored); err != nil {
		log.Warn("Error parsing ignored instances list: %v", err)
		return []string{}
	}

	result := make([]string, 0, len(ignored))
	for _, name := range ignored {
		if name = strings.TrimSpace(name); name != "" {
			result = append(result, name)
		}
	}
	return result
}

// CleanStatement drops invalid UTF-8, replaces control characters by spaces
// and collapses whitespace runs into a single space.
func CleanStatement(statement string) string {
	if !utf8.ValidString(statement) {
		statement = strings.ToValidUTF8(statement, "")
	}
	statement = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, statement)
	return strings.Join(strings.Fields(statement), " ")
}

// Helper function to convert a slice of strings to a slice of interfaces
func ConvertToInterfaceSlice(slice []string) []interface{} {
	result := make([]interface{}, len(slice))
	for i, v := range slice {
		result[i] = v
	}
	return result
}

func FatalIfErr(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func GetValidPollInterval(interval int) time.Duration {
	if interval <= 0 {
		log.Warn("Poll interval must be positive, using the default value of %d", constants.DefaultPollInterval)
		interval = constants.DefaultPollInterval
	}
	return time.Duration(interval) * time.Second
}

func GetValidRegistryRefreshInterval(interval int) time.Duration {
	if interval <= 0 {
		log.Warn("Registry refresh interval must be positive, using the default value of %d", constants.DefaultRegistryRefreshInterval)
		interval = constants.DefaultRegistryRefreshInterval
	}
	return time.Duration(interval) * time.Second
}

func GetValidExecTimeThreshold(threshold int) int {
	if threshold < 0 {
		log.Warn("Exec time threshold cannot be negative, using the default value of %d", constants.DefaultExecTimeThreshold)
		return constants.DefaultExecTimeThreshold
	}
	return threshold
}
