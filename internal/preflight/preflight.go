package preflight

import (
	"context"

	"camrelay/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Snapshots.Enabled {
		results = append(results, CheckDirectoryAccess("Snapshot directory", cfg.Paths.SnapshotDir))
	}

	results = append(results, CheckRelay(ctx, cfg.Relay.APIURL))

	if cfg.ControlBus.Enabled {
		results = append(results, CheckNATS(ctx, cfg.ControlBus.NATSURL))
	}

	for _, dep := range CheckSystemDeps(cfg) {
		if dep.Available {
			results = append(results, Result{Name: dep.Name, Passed: true, Detail: dep.Command})
			continue
		}
		results = append(results, Result{Name: dep.Name, Passed: dep.Optional, Detail: dep.Detail})
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
