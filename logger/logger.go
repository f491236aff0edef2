package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with the property-map call style used across the app.
type Logger struct {
	l *logrus.Logger
}

var (
	instance *Logger
	once     sync.Once
)

// istFormatter stamps entries in IST regardless of host timezone.
type istFormatter struct {
	inner logrus.Formatter
	loc   *time.Location
}

func (f *istFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Time = entry.Time.In(f.loc)
	return f.inner.Format(entry)
}

// GetLogger returns the singleton logger instance.
func GetLogger() *Logger {
	once.Do(func() {
		instance = setupLogger()
	})
	return instance
}

// L is shorthand for GetLogger.
func L() *Logger {
	return GetLogger()
}

func setupLogger() *Logger {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		ist = time.UTC
	}

	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&istFormatter{
		inner: &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "02-01-06 15:04:05",
		},
		loc: ist,
	})

	writers := []io.Writer{os.Stdout}
	if dir, err := os.Getwd(); err == nil {
		logDir := filepath.Join(dir, "logs")
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			file, err := os.OpenFile(filepath.Join(logDir, "application.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
			if err == nil {
				writers = append(writers, file)
			}
		}
	}
	l.SetOutput(io.MultiWriter(writers...))

	return &Logger{l: l}
}

func fields(props []map[string]interface{}) logrus.Fields {
	if len(props) == 0 || props[0] == nil {
		return logrus.Fields{}
	}
	return logrus.Fields(props[0])
}

func (lg *Logger) Info(msg string, props ...map[string]interface{}) {
	lg.l.WithFields(fields(props)).Info(msg)
}

func (lg *Logger) Error(msg string, props ...map[string]interface{}) {
	lg.l.WithFields(fields(props)).Error(msg)
}

func (lg *Logger) Debug(msg string, props ...map[string]interface{}) {
	lg.l.WithFields(fields(props)).Debug(msg)
}

func (lg *Logger) Fatal(msg string, props ...map[string]interface{}) {
	lg.l.WithFields(fields(props)).Fatal(msg)
}

// EnableDebug turns on debug-level logging.
func (lg *Logger) EnableDebug() {
	lg.l.SetLevel(logrus.DebugLevel)
}

// DisableDebug restores info-level logging.
func (lg *Logger) DisableDebug() {
	lg.l.SetLevel(logrus.InfoLevel)
}
