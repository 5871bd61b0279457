package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetenvOrDefault returns the trimmed value of the environment variable, or
// defaultValue when the variable is unset or blank.
func GetenvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	return value
}

// GetenvIntOrDefault returns the environment variable parsed as an int, or
// defaultValue when unset, blank, or unparsable.
func GetenvIntOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// GetenvBoolOrDefault returns the environment variable parsed as a bool, or
// defaultValue when unset, blank, or unparsable.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

// GetenvDurationOrDefault returns the environment variable parsed as a
// time.Duration ("60s", "1m"), or defaultValue when unset, blank, or
// unparsable. Bare integers are interpreted as seconds.
func GetenvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}

	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
