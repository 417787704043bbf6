package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

func logLevel(name string) (logrus.Level, error) {
	switch name {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be trace, debug, info, warn, or error)", name)
	}
}

// NewLogger builds the logger described by the log section. An invalid level
// was already rejected by Validate; here it falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Log.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}
