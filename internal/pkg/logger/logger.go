package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the process logger: JSON in production, text otherwise. An
// unknown level falls back to info.
func New(prod bool, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if prod {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
