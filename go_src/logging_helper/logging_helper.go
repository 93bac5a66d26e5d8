package logging_helper

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wenjunxiao/trade-calendar/go_src/configuration"
)

const (
	defaultRotationSizeMB = 2
	defaultMaxBackups     = 30
	timestampFormat       = "2006-01-02 15:04:05.000"
)

// SetupLogging points logrus at a rotating file under <file_path>/<appName>/,
// optionally mirrored to stdout. The returned closer releases the log file.
func SetupLogging(logConfig configuration.Logging, appName string) (io.Closer, error) {
	if appName == "" {
		return nil, fmt.Errorf("appName cannot be empty")
	}

	if strings.EqualFold(logConfig.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: timestampFormat})
	}

	level, errLevel := logrus.ParseLevel(strings.ToLower(logConfig.Level))
	if errLevel != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if logConfig.FilePath == "" {
		err := fmt.Errorf("log_path (logging.file_path) is not configured")
		logrus.Error(err.Error())
		return nil, err
	}
	logDir := filepath.Join(logConfig.FilePath, appName)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		err = fmt.Errorf("failed to create log directory '%s': %w", logDir, err)
		logrus.Error(err.Error())
		return nil, err
	}
	logFile := filepath.Join(logDir, appName+".log")

	rotation := logConfig.RotationSize
	if rotation <= 0 {
		rotation = defaultRotationSizeMB
	}
	backups := logConfig.MaxBackups
	if backups <= 0 {
		backups = defaultMaxBackups
	}
	lumberjackLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    rotation,
		MaxBackups: backups,
		Compress:   true,
	}

	writers := []io.Writer{lumberjackLogger}
	if logConfig.ConsoleOutput {
		writers = append(writers, os.Stdout)
	}
	logrus.SetOutput(io.MultiWriter(writers...))

	// Warnings below land in the configured output.
	if logConfig.RotationSize <= 0 {
		logrus.Warnf("logging.rotation_size is invalid (%d), defaulting to %dMB", logConfig.RotationSize, defaultRotationSizeMB)
	}
	if logConfig.MaxBackups <= 0 {
		logrus.Warnf("logging.max_backups is invalid (%d), defaulting to %d", logConfig.MaxBackups, defaultMaxBackups)
	}
	if errLevel != nil {
		logrus.Warnf("Invalid log level '%s' was overridden to 'info'. Error: %v", logConfig.Level, errLevel)
	}

	logrus.Infof("-------------------------------- Started %s application --------------------------------", appName)
	logrus.Infof("Logging configured: Level=%s, File=%s, ConsoleOutput=%t", logrus.GetLevel().String(), logFile, logConfig.ConsoleOutput)
	return lumberjackLogger, nil
}
