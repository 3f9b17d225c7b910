/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	loggerNameSeparator = "."
	rootLoggerName      = "token-sdk"
)

// Logger provides logging API
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Panic(args ...interface{})
	Panicf(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	IsEnabledFor(level zapcore.Level) bool
	Named(name string) Logger
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l *zapLogger) IsEnabledFor(level zapcore.Level) bool {
	return l.Desugar().Core().Enabled(level)
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{SugaredLogger: l.SugaredLogger.Named(name)}
}

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	rootOnce sync.Once
	root     *zap.Logger
)

func rootLogger() *zap.Logger {
	rootOnce.Do(func() {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(os.Stderr),
			level,
		)
		root = zap.New(core, zap.AddCaller()).Named(rootLoggerName)
	})
	return root
}

// MustGetLogger returns a logger named after the passed parts, joined by dots.
// Empty parts are skipped.
func MustGetLogger(parts ...string) Logger {
	l := rootLogger()
	if name := loggerName(parts...); len(name) != 0 {
		l = l.Named(name)
	}
	return &zapLogger{SugaredLogger: l.Sugar()}
}

// ActivateSpec sets the global logging level. The spec is a level name (debug, info, warn, error),
// case-insensitive. An empty spec resets the level to info.
func ActivateSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if len(spec) == 0 {
		level.SetLevel(zapcore.InfoLevel)
		return nil
	}
	l, err := zapcore.ParseLevel(strings.ToLower(spec))
	if err != nil {
		return errors.Wrapf(err, "invalid logging spec [%s]", spec)
	}
	level.SetLevel(l)
	return nil
}

// Level returns the active global level
func Level() zapcore.Level {
	return level.Level()
}

func loggerName(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) != 0 {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, loggerNameSeparator)
}
