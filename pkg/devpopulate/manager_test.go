// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package devpopulate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forkbombeu/devpopulate/internal/populate"
)

func TestNewWithEnvDefaults(t *testing.T) {
	mgr := NewWithEnv(Environment{CorrelationID: "corr-123"})
	if mgr.env.ADB != "adb" || mgr.env.Address != populate.DefaultAddress {
		t.Fatalf("unexpected defaults %+v", mgr.env)
	}
	if mgr.env.StartTimeout != populate.DefaultStartTimeout || mgr.env.IndexRoot != populate.DefaultIndexRoot {
		t.Fatalf("unexpected defaults %+v", mgr.env)
	}
	if mgr.env.Context == nil || mgr.env.CorrelationID != "corr-123" {
		t.Fatal("expected context and correlation id set")
	}
}

func TestNewWithContextKeepsDetectedCorrelationID(t *testing.T) {
	t.Setenv("DEVPOPULATE_CORRELATION_ID", "from-env")
	if got := NewWithContext(context.Background()).env.CorrelationID; got != "from-env" {
		t.Fatalf("expected detected correlation id, got %q", got)
	}
	if got := NewWithCorrelationID("explicit").env.CorrelationID; got != "explicit" {
		t.Fatalf("expected explicit correlation id, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	mgr := NewWithEnv(Environment{})
	cases := []struct {
		name string
		opts Options
		want func(error) bool
	}{
		{"nothing", Options{}, func(err error) bool { return errors.Is(err, ErrNothingRequested) }},
		{"conflict", Options{Workload: "light", Counts: map[string]int{"calls": 0}}, func(err error) bool { return errors.Is(err, ErrWorkloadConflict) }},
		{"invalid", Options{Counts: map[string]int{"messages": 150}}, func(err error) bool {
			var invalid *InvalidCountError
			return errors.As(err, &invalid)
		}},
		{"duplicate kind", Options{Counts: map[string]int{"contact": 10, "contacts": 20}}, func(err error) bool { return errors.Is(err, ErrDuplicateKind) }},
		{"unknown kind", Options{Counts: map[string]int{"ringtones": 1}}, func(err error) bool { return err != nil }},
		{"unknown workload", Options{Workload: "huge"}, func(err error) bool { return err != nil }},
		{"ok", Options{Counts: map[string]int{"contacts": 7, "music": 3}}, func(err error) bool { return err == nil }},
		{"workload", Options{Workload: "x-heavy"}, func(err error) bool { return err == nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := mgr.Validate(tc.opts); !tc.want(err) {
				t.Fatalf("unexpected result %v", err)
			}
		})
	}
}

func TestPopulateRejectsBeforeDevice(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "called")
	adbPath := filepath.Join(dir, "adb")
	if err := os.WriteFile(adbPath, []byte("#!/bin/sh\ntouch "+marker+"\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write adb script: %v", err)
	}
	mgr := NewWithEnv(Environment{ADBBin: adbPath})
	err := mgr.Populate(Options{Counts: map[string]int{"events": 1000}})
	var invalid *InvalidCountError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidCountError, got %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatal("adb was invoked for an invalid request")
	}
}

func TestLoadWorkloads(t *testing.T) {
	p := filepath.Join(t.TempDir(), "workloads.yaml")
	if err := os.WriteFile(p, []byte("smoke:\n  contacts: 10\n  videos: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mgr := NewWithEnv(Environment{})
	if err := mgr.LoadWorkloads(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	counts, err := mgr.Workload("smoke")
	if err != nil {
		t.Fatalf("workload: %v", err)
	}
	if counts["contacts"] != 10 || counts["videos"] != 1 || len(counts) != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if len(mgr.Workloads()) != 6 {
		t.Fatalf("expected built-ins plus smoke, got %v", mgr.Workloads())
	}
}
