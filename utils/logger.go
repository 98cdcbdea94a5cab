/*
 * Copyright 2025 chstack.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging handle handed out by this package. It is zap's
// sugared logger, so call sites log with a message plus alternating
// key/value pairs.
type Logger = zap.SugaredLogger

var (
	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]zap.AtomicLevel{}

	defaultLevel = zap.NewAtomicLevelAt(ParseLogLevel(EnvDefaultString("CHORM_LOG_LEVEL", "info")))
	logFormat    = EnvDefaultString("CHORM_LOG_FORMAT", "console")
)

// ParseLogLevel maps a level name to a zap level. Unknown names and the
// empty string fall back to info.
func ParseLogLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	case "panic":
		return zapcore.PanicLevel
	default:
		return zapcore.InfoLevel
	}
}

// ConfigureLogFormat switches the encoder for loggers created afterwards:
// "json" or "console".
func ConfigureLogFormat(format string) {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		logFormat = "json"
	} else {
		logFormat = "console"
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.NameKey = "logger"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

// NewLogger builds a named logger writing to stdout and registers it so its
// level can be adjusted later through SetLoggerLevel or SetAllLoggersLevel.
// Caller reporting skips one frame because the database package wraps the
// returned logger.
func NewLogger(name string) *Logger {
	level := zap.NewAtomicLevelAt(defaultLevel.Level())

	cfg := encoderConfig()
	var enc zapcore.Encoder
	if logFormat == "json" {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(name)

	loggerRegistryMu.Lock()
	loggerRegistry[name] = level
	loggerRegistryMu.Unlock()
	return logger.Sugar()
}

// RegisterLoggerLevel attaches an externally built logger's level handle to
// the registry under the given name.
func RegisterLoggerLevel(name string, level zap.AtomicLevel) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = level
}

// SetLoggerLevel adjusts one registered logger. It reports whether a logger
// with that name exists.
func SetLoggerLevel(name string, levelStr string) bool {
	lvl := ParseLogLevel(levelStr)
	loggerRegistryMu.RLock()
	level, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	level.SetLevel(lvl)
	return true
}

// SetAllLoggersLevel adjusts every registered logger and the default applied
// to loggers created afterwards.
func SetAllLoggersLevel(levelStr string) {
	lvl := ParseLogLevel(levelStr)
	loggerRegistryMu.RLock()
	for _, level := range loggerRegistry {
		level.SetLevel(lvl)
	}
	loggerRegistryMu.RUnlock()
	defaultLevel.SetLevel(lvl)
}

// ConfigureLogLevel sets the default level used by NewLogger and applies it
// to already registered loggers.
func ConfigureLogLevel(levelStr string) {
	SetAllLoggersLevel(levelStr)
}

// EnvDefaultString returns the environment value for key, or def when unset
// or empty.
func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvDefaultBool parses a boolean environment value, returning def when the
// variable is unset or empty.
func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

// EnvDefaultInt parses an integer environment value, returning def when the
// variable is unset, empty, or malformed.
func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
