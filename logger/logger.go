package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	projectLogger *logrus.Logger
	once          sync.Once
)

// GetProjectLogger returns the shared logger for the engine. Components grab
// it at call sites rather than carrying a logger field around.
func GetProjectLogger() *logrus.Logger {
	once.Do(func() {
		projectLogger = logrus.New()
		projectLogger.SetOutput(os.Stderr)
		projectLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
		if lvl, err := logrus.ParseLevel(os.Getenv("PULSE_LOG_LEVEL")); err == nil {
			projectLogger.SetLevel(lvl)
		} else {
			projectLogger.SetLevel(logrus.InfoLevel)
		}
	})
	return projectLogger
}
