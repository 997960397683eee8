package logger

import (
	"io"
	"os"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

// LogrusLogger is a Logger backed by sirupsen/logrus, matching the verbosity
// model (ERROR/INFO/DEBUG) that the helper's stdio protocol dictates.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a LogrusLogger that writes to stderr (the helper's stdout
// is reserved for the git-remote-helper wire protocol).
func NewLogger() *LogrusLogger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{entry: logrus.NewEntry(log)}
}

// AddLogFile hooks an additional, daily-rotated log file sink, for when the
// helper is run with its trace redirected to disk by the calling git client.
func (l *LogrusLogger) AddLogFile(path string) error {
	writer, err := rotatelogs.New(path + ".%Y%m%d")
	if err != nil {
		return err
	}
	l.entry.Logger.AddHook(lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: io.Writer(writer),
		logrus.InfoLevel:  io.Writer(writer),
		logrus.WarnLevel:  io.Writer(writer),
		logrus.ErrorLevel: io.Writer(writer),
		logrus.FatalLevel: io.Writer(writer),
	}, nil))
	return nil
}

func (l *LogrusLogger) SetToDebug() { l.entry.Logger.SetLevel(logrus.DebugLevel) }
func (l *LogrusLogger) SetToInfo()  { l.entry.Logger.SetLevel(logrus.InfoLevel) }
func (l *LogrusLogger) SetToError() { l.entry.Logger.SetLevel(logrus.ErrorLevel) }

// Module returns a child logger namespaced under ns, the way the teacher's
// services do with cfg.G().Log.Module("...").
func (l *LogrusLogger) Module(ns string) Logger {
	return &LogrusLogger{entry: l.entry.WithField("module", ns)}
}

func toFields(keyValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			continue
		}
		fields[key] = keyValues[i+1]
	}
	return fields
}

func (l *LogrusLogger) Debug(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Info(msg)
}

func (l *LogrusLogger) Error(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Error(msg)
}

func (l *LogrusLogger) Fatal(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Fatal(msg)
}

func (l *LogrusLogger) Warn(msg string, keyValues ...interface{}) {
	l.entry.WithFields(toFields(keyValues)).Warn(msg)
}
