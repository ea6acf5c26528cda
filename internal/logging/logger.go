package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
	// Stream receives a copy of every record when set.
	Stream *StreamHub
	// Attrs are attached to every record, e.g. the daemon run id.
	Attrs []Attr
}

// New constructs a slog logger using the provided options. Files it opens
// stay open for the life of the process; use Open to release them.
func New(opts Options) (*slog.Logger, error) {
	logger, _, err := Open(opts)
	return logger, err
}

// Open constructs a logger and returns a closer for the log files it opened.
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	outputs := append(defaultPaths(opts.OutputPaths, "stdout"), defaultPaths(opts.ErrorOutputPaths, "stderr")...)
	sinks, err := openSinks(outputs)
	if err != nil {
		return nil, nil, err
	}
	handler, err := buildHandler(opts, sinks.writer())
	if err != nil {
		_ = sinks.Close()
		return nil, nil, err
	}
	logger := slog.New(handler)
	if len(opts.Attrs) > 0 {
		logger = logger.With(Args(opts.Attrs...)...)
	}
	return logger, sinks, nil
}

func buildHandler(opts Options, w io.Writer) (slog.Handler, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)
	addSource := opts.Development || level <= slog.LevelDebug

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json":
		handler = newJSONHandler(w, levelVar, addSource)
	case "", "console", "pretty":
		handler = newPrettyHandler(w, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	if opts.Stream != nil {
		handler = newStreamHandler(handler, opts.Stream)
	}
	return handler, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaultPaths(paths []string, fallback string) []string {
	if len(paths) == 0 {
		return []string{fallback}
	}
	return paths
}

// sinkSet is the deduplicated set of destinations a logger writes to.
type sinkSet struct {
	writers []io.Writer
	files   []*os.File
}

func openSinks(paths []string) (*sinkSet, error) {
	set := &sinkSet{}
	seen := make(map[string]struct{}, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		switch path {
		case "stdout":
			set.writers = append(set.writers, os.Stdout)
		case "stderr":
			set.writers = append(set.writers, os.Stderr)
		default:
			if dir := filepath.Dir(path); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					_ = set.Close()
					return nil, fmt.Errorf("create log directory %s: %w", dir, err)
				}
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				_ = set.Close()
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			set.files = append(set.files, file)
			set.writers = append(set.writers, file)
		}
	}
	return set, nil
}

func (s *sinkSet) writer() io.Writer {
	switch len(s.writers) {
	case 0:
		return os.Stdout
	case 1:
		return s.writers[0]
	default:
		return io.MultiWriter(s.writers...)
	}
}

// Close closes the files the set opened. stdout and stderr are left alone.
func (s *sinkSet) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	s.files = nil
	return errors.Join(errs...)
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
