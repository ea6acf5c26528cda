package pruner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"camrelay/internal/device"
	"camrelay/internal/logging"
	"camrelay/internal/testsupport"
)

const day = 24 * time.Hour

func TestSelectByAge(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	artifacts := []Artifact{
		{Path: "10d", ModTime: now.Add(-10 * day)},
		{Path: "5d", ModTime: now.Add(-5 * day)},
		{Path: "1d", ModTime: now.Add(-1 * day)},
	}
	got := Select(artifacts, device.RetentionPolicy{MaxAge: 7 * day}, now)
	if len(got) != 1 || got[0].Path != "10d" {
		t.Fatalf("Select = %+v", got)
	}
	if artifacts[0].Path != "10d" {
		t.Fatal("input reordered")
	}
}

func TestSelectByCount(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	artifacts := []Artifact{
		{Path: "a", ModTime: now.Add(-3 * time.Hour)},
		{Path: "b", ModTime: now.Add(-1 * time.Hour)},
		{Path: "c", ModTime: now.Add(-2 * time.Hour)},
	}
	got := Select(artifacts, device.RetentionPolicy{MaxCount: 2}, now)
	if len(got) != 1 || got[0].Path != "a" {
		t.Fatalf("Select = %+v", got)
	}
	if Select(artifacts, device.RetentionPolicy{}, now) != nil {
		t.Fatal("disabled policy selected artifacts")
	}
}

func TestSelectAgeAndCountCombine(t *testing.T) {
	now := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	artifacts := []Artifact{
		{Path: "old", ModTime: now.Add(-9 * day)},
		{Path: "new1", ModTime: now.Add(-1 * time.Hour)},
		{Path: "new2", ModTime: now.Add(-2 * time.Hour)},
		{Path: "new3", ModTime: now.Add(-3 * time.Hour)},
	}
	got := Select(artifacts, device.RetentionPolicy{MaxAge: 7 * day, MaxCount: 2}, now)
	var paths []string
	for _, a := range got {
		paths = append(paths, a.Path)
	}
	slices.Sort(paths)
	if !slices.Equal(paths, []string{"new3", "old"}) {
		t.Fatalf("Select = %v", paths)
	}
}

type fakeIndex struct{ deleted []string }

func (f *fakeIndex) DeleteCaptures(_ context.Context, paths []string) (int64, error) {
	f.deleted = append(f.deleted, paths...)
	return int64(len(paths)), nil
}

func staticTargets(targets ...Target) TargetSource {
	return func() []Target { return targets }
}

func TestPassDeletesOnlyExpired(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "front")
	const layout = "2006-01-02/15-04-05"
	now := time.Now()
	old := testsupport.HistoryPath(root, "front", layout, now.Add(-10*day))
	mid := testsupport.HistoryPath(root, "front", layout, now.Add(-5*day))
	recent := testsupport.HistoryPath(root, "front", layout, now.Add(-1*day))
	testsupport.WriteSnapshot(t, old, 10*day)
	testsupport.WriteSnapshot(t, mid, 5*day)
	testsupport.WriteSnapshot(t, recent, 1*day)

	index := &fakeIndex{}
	p := New(staticTargets(Target{Device: "FRONT", Dir: dir, Policy: device.RetentionPolicy{MaxAge: 7 * day}}),
		Options{Index: index, Logger: logging.NewNop()})
	report := p.Pass(context.Background())

	if !slices.Equal(report.Removed, []string{old}) {
		t.Fatalf("removed %v", report.Removed)
	}
	for _, keep := range []string{mid, recent} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("%s was deleted: %v", keep, err)
		}
	}
	if _, err := os.Stat(filepath.Dir(old)); !os.IsNotExist(err) {
		t.Fatalf("empty day directory left behind: %v", err)
	}
	if !slices.Equal(report.RemovedDirs, []string{filepath.Dir(old)}) {
		t.Fatalf("removed dirs %v", report.RemovedDirs)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("device directory removed: %v", err)
	}
	if !slices.Equal(index.deleted, []string{old}) {
		t.Fatalf("index told %v", index.deleted)
	}
}

func TestPassIsolatesDeviceFailures(t *testing.T) {
	root := t.TempDir()
	lockedDir := filepath.Join(root, "locked")
	openDir := filepath.Join(root, "open")
	lockedOld := filepath.Join(lockedDir, "old.jpg")
	openOld := filepath.Join(openDir, "old.jpg")
	testsupport.WriteSnapshot(t, lockedOld, 10*day)
	testsupport.WriteSnapshot(t, openOld, 10*day)

	policy := device.RetentionPolicy{MaxAge: 7 * day}
	p := New(staticTargets(
		Target{Device: "LOCKED", Dir: lockedDir, Policy: policy},
		Target{Device: "OPEN", Dir: openDir, Policy: policy},
	), Options{
		Logger: logging.NewNop(),
		Remove: func(path string) error {
			if strings.HasPrefix(path, lockedDir) {
				return os.ErrPermission
			}
			return os.Remove(path)
		},
	})
	report := p.Pass(context.Background())

	if err := report.Failed["LOCKED"]; !errors.Is(err, os.ErrPermission) {
		t.Fatalf("locked device error = %v", err)
	}
	if _, ok := report.Failed["OPEN"]; ok {
		t.Fatal("open device reported a failure")
	}
	if _, err := os.Stat(openOld); !os.IsNotExist(err) {
		t.Fatalf("open device artifact not pruned: %v", err)
	}
	if _, err := os.Stat(lockedOld); err != nil {
		t.Fatalf("locked artifact should remain: %v", err)
	}
}

func TestPassMissingDirectoryIsNotAnError(t *testing.T) {
	p := New(staticTargets(Target{Device: "NEW", Dir: filepath.Join(t.TempDir(), "missing"), Policy: device.RetentionPolicy{MaxCount: 1}}),
		Options{Logger: logging.NewNop()})
	report := p.Pass(context.Background())
	if len(report.Failed) != 0 || len(report.Removed) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestPassSkipsDirectoryAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	p := New(staticTargets(Target{Device: "CAM", Dir: dir, Policy: device.RetentionPolicy{MaxCount: 1}}),
		Options{Logger: logging.NewNop()})
	if !p.acquire(dir) {
		t.Fatal("acquire failed")
	}
	report := p.Pass(context.Background())
	p.release(dir)
	if !slices.Equal(report.Skipped, []string{"CAM"}) {
		t.Fatalf("skipped %v", report.Skipped)
	}
}

func TestPassIgnoresStagedFiles(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "latest.tmp-1234.jpg")
	testsupport.WriteSnapshot(t, staged, 30*day)
	p := New(staticTargets(Target{Device: "CAM", Dir: dir, Policy: device.RetentionPolicy{MaxAge: day}}),
		Options{Logger: logging.NewNop()})
	p.Pass(context.Background())
	if _, err := os.Stat(staged); err != nil {
		t.Fatalf("staged capture pruned: %v", err)
	}
}

type fakeDevices map[string]device.Descriptor

func (f fakeDevices) Names() []string {
	var names []string
	for name := range f {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (f fakeDevices) Descriptor(name string) (device.Descriptor, bool) {
	d, ok := f[name]
	return d, ok
}

func TestDeviceTargets(t *testing.T) {
	devices := fakeDevices{
		"FRONT_DOOR": {Name: "FRONT_DOOR", Retention: device.RetentionPolicy{MaxAge: day}},
		"NO_POLICY":  {Name: "NO_POLICY"},
	}
	targets := DeviceTargets(devices, "/snaps")()
	if len(targets) != 1 {
		t.Fatalf("targets = %+v", targets)
	}
	if targets[0].Dir != filepath.Join("/snaps", "front_door") || targets[0].Policy.MaxAge != day {
		t.Fatalf("target = %+v", targets[0])
	}
}
