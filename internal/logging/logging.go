/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating file sink. An empty Path disables it.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetupWithWriter builds the process logger: console output always, a
// rotating JSON file when file.Path is set, and an extra sink (the
// in-memory ring served over the API) when tap is non-nil. The result is
// also installed as zerolog's global logger.
func SetupWithWriter(environment string, file FileOptions, tap io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	sinks := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if rotator := fileSink(file); rotator != nil {
		sinks = append(sinks, rotator)
	}
	if tap != nil {
		sinks = append(sinks, tap)
	}

	out := sinks[0]
	if len(sinks) > 1 {
		out = zerolog.MultiLevelWriter(sinks...)
	}

	logger := zerolog.New(out).Level(levelFor(environment)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// fileSink returns a rotating writer for opts, or nil when the sink is
// disabled or its directory cannot be created. Logging must not take the
// process down, so a bad log path degrades to console-only.
func fileSink(opts FileOptions) io.Writer {
	if opts.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
}

func levelFor(environment string) zerolog.Level {
	switch environment {
	case "development":
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
