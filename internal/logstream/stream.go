// Package logstream prints daemon logs for the CLI, preferring the HTTP event
// stream and falling back to tailing the log file over IPC.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"camrelay/internal/api"
	"camrelay/internal/ipc"
	"camrelay/internal/logs"
)

// ErrFiltersRequireAPI is returned when filters were requested but only the
// raw log file is reachable.
var ErrFiltersRequireAPI = errors.New("log filters require API access")

// TailClient is the IPC call used for fallback streaming.
type TailClient interface {
	LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error)
}

// Filters narrows API streaming to matching events.
type Filters struct {
	Component     string
	Camera        string
	CorrelationID string
	Level         string
}

func (f Filters) empty() bool {
	return strings.TrimSpace(f.Component) == "" &&
		strings.TrimSpace(f.Camera) == "" &&
		strings.TrimSpace(f.CorrelationID) == "" &&
		strings.TrimSpace(f.Level) == ""
}

// Options controls stream behavior.
type Options struct {
	Lines   int
	Follow  bool
	Filters Filters
}

const followPage = 200

// Stream emits events from the API when available, otherwise raw lines from
// the IPC tail. It reports whether anything was emitted.
func Stream(
	ctx context.Context,
	apiClient *logs.StreamClient,
	fallback TailClient,
	opts Options,
	onEvent func(api.LogEvent),
	onLine func(string),
) (bool, error) {
	printed, err := streamAPI(ctx, apiClient, opts, onEvent)
	if err == nil || !logs.IsAPIUnavailable(err) {
		return printed, err
	}
	if !opts.Filters.empty() {
		return false, fmt.Errorf("%w: %w", ErrFiltersRequireAPI, logs.ErrAPIUnavailable)
	}
	if fallback == nil {
		return false, logs.ErrAPIUnavailable
	}
	return streamTail(ctx, fallback, opts, onLine)
}

func streamAPI(ctx context.Context, client *logs.StreamClient, opts Options, onEvent func(api.LogEvent)) (bool, error) {
	query := logs.StreamQuery{
		Limit:         opts.Lines,
		Tail:          true,
		Component:     opts.Filters.Component,
		Camera:        opts.Filters.Camera,
		CorrelationID: opts.Filters.CorrelationID,
		Level:         opts.Filters.Level,
	}
	if query.Limit <= 0 {
		query.Limit = followPage
	}

	printed := false
	for {
		resp, err := client.Fetch(ctx, query)
		if err != nil {
			if printed && ctx.Err() != nil {
				return printed, nil
			}
			return printed, err
		}
		for _, evt := range resp.Events {
			if onEvent != nil {
				onEvent(evt)
			}
			printed = true
		}
		if !opts.Follow {
			return printed, nil
		}
		query.Since = resp.Next
		query.Limit = followPage
		query.Tail = false
		query.Follow = true
	}
}

func streamTail(ctx context.Context, client TailClient, opts Options, onLine func(string)) (bool, error) {
	limit := max(opts.Lines, 0)
	offset := int64(-1)
	if limit == 0 {
		offset = 0
	}

	printed := false
	for {
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     offset,
			Limit:      limit,
			Follow:     opts.Follow,
			WaitMillis: 1000,
		})
		if err != nil {
			return printed, fmt.Errorf("tail logs: %w", err)
		}
		if resp == nil {
			return printed, errors.New("log tail response missing")
		}
		for _, line := range resp.Lines {
			if onLine != nil {
				onLine(line)
			}
			printed = true
		}
		offset = resp.Offset
		limit = 0
		if !opts.Follow {
			return printed, nil
		}
		if ctx.Err() != nil {
			return printed, nil
		}
	}
}
