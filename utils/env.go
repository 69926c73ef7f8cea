package utils

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the variable or the fallback when unset/blank.
func GetEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// MustGetEnv stops the process when a required variable is missing.
func MustGetEnv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Fatalf("❌ %s environment variable not set", key)
	}
	return v
}

func GetEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		LogWarn("⚠️  %s=%q is not an integer, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		LogWarn("⚠️  %s=%q is not a valid duration, using %s", key, raw, fallback)
		return fallback
	}
	return d
}

// SplitCSV splits a comma-separated env value, trimming blanks.
func SplitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
