package config

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log configures the runtime logger.
type Log struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" toml:"level"`
	// File routes logs to a size-rotated file instead of stderr.
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" toml:"maxBackups"`
	// JSON selects the JSON handler; the default is text.
	JSON bool `yaml:"json" toml:"json"`
}

// ParseLevel maps a configured level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}

// NewLogger builds the logger the configuration describes. Output goes
// to the rotating file when one is set, else to w. verbose forces debug
// level. The returned closer releases the file.
func (l Log) NewLogger(w io.Writer, verbose bool) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	var closer io.Closer = nopCloser{}
	if l.File != "" {
		lj := &lumberjack.Logger{
			Filename:   l.File,
			MaxSize:    l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
		}
		w, closer = lj, lj
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if l.JSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
