/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package xlog provides the gateway's structured logger, a thin zap
// wrapper that tags every entry with the originating module.
package xlog

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Log wraps a *zap.Logger scoped to one module.
type Log struct {
	*zap.Logger
	module string
}

var (
	mu   sync.RWMutex
	base *zap.Logger
)

// Options configures the process-wide base logger.
type Options struct {
	// Level is the minimum enabled level ("debug", "info", "warn", "error").
	Level string
	// File, when non-empty, rotates logs through lumberjack instead of stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Development bool
}

// Init installs the process-wide base logger. Safe to call once at startup;
// LoggerModule falls back to a sane development logger if Init was never
// called, so tests never need to call it.
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if opts.File != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 3),
			MaxAge:     defaultInt(opts.MaxAgeDays, 28),
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level)
	l := zap.New(core, zap.AddCaller())
	if opts.Development {
		l = l.WithOptions(zap.Development())
	}

	mu.Lock()
	base = l
	mu.Unlock()
	return nil
}

// LoggerModule returns a logger scoped to the named module, e.g.
// xlog.LoggerModule("handler").
func LoggerModule(module string) *Log {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b == nil {
		b = zap.NewExample()
	}
	return &Log{Logger: b.With(zap.String("module", module)), module: module}
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() error {
	mu.RLock()
	b := base
	mu.RUnlock()
	if b == nil {
		return nil
	}
	return b.Sync()
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
