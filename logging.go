package main

import (
	"io"

	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging configures logger from cfg. The returned closer flushes the
// rotating log file when one is used.
func setupLogging(logger *log.Logger, cfg config) io.Closer {
	if cfg.debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.logFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	var closer io.Closer = nopCloser{}
	if cfg.logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.logFile,
			MaxSize:    cfg.logMaxSizeMB,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		logger.SetOutput(lj)
		closer = lj
	}

	if cfg.debug {
		// azcore pipeline events: requests, responses and retries.
		azlog.SetListener(func(ev azlog.Event, msg string) {
			logger.WithField("azure.event", string(ev)).Debug(msg)
		})
	}
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
