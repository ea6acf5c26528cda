package pruner

import (
	"sort"
	"time"

	"camrelay/internal/device"
)

// Artifact is one stored capture file.
type Artifact struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// Select returns the artifacts that violate policy at now: anything older
// than MaxAge, plus everything beyond the newest MaxCount. The input is not
// modified.
func Select(artifacts []Artifact, policy device.RetentionPolicy, now time.Time) []Artifact {
	if !policy.Enabled() || len(artifacts) == 0 {
		return nil
	}
	sorted := append([]Artifact(nil), artifacts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].ModTime.After(sorted[j].ModTime)
		}
		return sorted[i].Path > sorted[j].Path
	})

	var expired []Artifact
	for i, a := range sorted {
		tooOld := policy.MaxAge > 0 && now.Sub(a.ModTime) > policy.MaxAge
		tooMany := policy.MaxCount > 0 && i >= policy.MaxCount
		if tooOld || tooMany {
			expired = append(expired, a)
		}
	}
	return expired
}
