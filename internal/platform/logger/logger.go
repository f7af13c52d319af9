package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the process-wide structured logger. Level comes from
// SEARCHSYNC_LOG_LEVEL; VersionConflict no-ops and other recovered conditions
// log at debug, so bump the level when chasing ordering issues.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(os.Getenv("SEARCHSYNC_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
