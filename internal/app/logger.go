package app

import (
	"strings"

	"github.com/charlesng35/simplecache/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level and
// format, defaulting to info and JSON output.
func ConfigureLogging(level, format string) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "json"
	}
	return logger.InitWithOptions(logger.Options{Level: level, Format: format})
}
