// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package devpopulate provides a Go library for seeding a device with
// reference datasets of calls, contacts, events, messages and media.
package devpopulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/forkbombeu/devpopulate/internal/marionette"
	"github.com/forkbombeu/devpopulate/internal/populate"
)

var (
	ErrNothingRequested = populate.ErrNothingRequested
	ErrWorkloadConflict = populate.ErrWorkloadConflict
	// ErrDuplicateKind is returned when Counts names one kind twice, as in
	// "contact" and "contacts".
	ErrDuplicateKind = errors.New("kind given more than once")
)

type (
	// InvalidCountError reports a count rejected before any device call.
	InvalidCountError = populate.InvalidCountError
	// IncorrectCountError reports media left behind after removal.
	IncorrectCountError = populate.IncorrectCountError
	// InsertError reports the record at which remainder synthesis stopped.
	InsertError = populate.InsertError
)

// Manager provides high-level population operations for one device.
type Manager struct {
	env       populate.Env
	workloads populate.Workloads
}

// New creates a new Manager with auto-detected environment.
func New() *Manager {
	return &Manager{
		env:       populate.Detect(),
		workloads: populate.DefaultWorkloads(),
	}
}

// NewWithCorrelationID creates a new Manager with a correlation ID for structured logs.
func NewWithCorrelationID(correlationID string) *Manager {
	return NewWithContextAndCorrelationID(context.Background(), correlationID)
}

// NewWithContext creates a new Manager with a custom context for tracing.
func NewWithContext(ctx context.Context) *Manager {
	return NewWithContextAndCorrelationID(ctx, "")
}

// NewWithContextAndCorrelationID creates a new Manager with a custom context and correlation ID.
// An empty correlation ID keeps the detected one.
func NewWithContextAndCorrelationID(ctx context.Context, correlationID string) *Manager {
	env := populate.Detect()
	if ctx == nil {
		ctx = context.Background()
	}
	env.Context = ctx
	if correlationID != "" {
		env.CorrelationID = correlationID
	}
	return &Manager{
		env:       env,
		workloads: populate.DefaultWorkloads(),
	}
}

// NewWithEnv creates a new Manager with custom environment configuration.
// Zero fields fall back to the defaults.
func NewWithEnv(env Environment) *Manager {
	ctx := env.Context
	if ctx == nil {
		ctx = context.Background()
	}
	e := populate.Env{
		ADB:           env.ADBBin,
		Serial:        env.Serial,
		Address:       env.Address,
		ResourcesDir:  env.ResourcesDir,
		IndexRoot:     env.IndexRoot,
		StartTimeout:  env.StartTimeout,
		RemovalGrace:  populate.DefaultRemovalGrace,
		CorrelationID: env.CorrelationID,
		Context:       ctx,
		Logger:        env.Logger,
	}
	if e.ADB == "" {
		e.ADB = "adb"
	}
	if e.Address == "" {
		e.Address = populate.DefaultAddress
	}
	if e.ResourcesDir == "" {
		e.ResourcesDir = "resources"
	}
	if e.IndexRoot == "" {
		e.IndexRoot = populate.DefaultIndexRoot
	}
	if e.StartTimeout <= 0 {
		e.StartTimeout = populate.DefaultStartTimeout
	}
	return &Manager{
		env:       e,
		workloads: populate.DefaultWorkloads(),
	}
}

// Environment holds configuration for the device and bundled resources.
type Environment struct {
	ADBBin        string          // Path to adb binary (default: "adb")
	Serial        string          // Device serial (optional with a single device attached)
	Address       string          // Automation host:port (default: localhost:2828)
	ResourcesDir  string          // Directory with snapshot archives and media templates
	IndexRoot     string          // Device directory holding the index databases
	StartTimeout  time.Duration   // Wait for the device process after restart (default: 60s)
	CorrelationID string          // Correlation ID for log enrichment
	Context       context.Context // Context for tracing
	Logger        *slog.Logger    // Structured log sink (optional)
}

// Options selects what to populate. Counts maps a kind name ("contacts",
// "music", ...) to its target count; kinds left out are not touched.
// Workload names a bundle instead and cannot be combined with Counts.
type Options struct {
	Counts   map[string]int
	Workload string

	// NoForward skips forwarding the automation port over adb.
	NoForward bool
	// ScriptTimeout bounds each data layer script (default: 30s).
	ScriptTimeout time.Duration
	// Seed fixes generated records; zero picks a random seed.
	Seed uint64
	// Progress is called as records and files land on the device.
	Progress func(kind string, done, total int)
}

// PresetInfo describes the bundled snapshots of a kind.
type PresetInfo struct {
	Kind      string `json:"kind"`
	Markers   []int  `json:"markers"`
	Remainder bool   `json:"remainder"`
}

// SnapshotInfo describes one bundled snapshot database.
type SnapshotInfo struct {
	Marker  int    `json:"marker"`
	Entry   string `json:"entry"`
	Records int    `json:"records"`
	Size    int64  `json:"size_bytes"`
	Digest  string `json:"digest"`
}

// request resolves opts into a validated request without touching the device.
func (m *Manager) request(opts Options) (populate.Request, error) {
	if opts.Workload != "" {
		if len(opts.Counts) > 0 {
			return populate.Request{}, populate.ErrWorkloadConflict
		}
		w, err := m.workloads.Lookup(opts.Workload)
		if err != nil {
			return populate.Request{}, err
		}
		req := w.Request()
		return req, req.Validate()
	}
	var req populate.Request
	seen := make(map[populate.DataKind]string, len(opts.Counts))
	for name, n := range opts.Counts {
		kind, err := populate.ParseKind(name)
		if err != nil {
			return populate.Request{}, err
		}
		if prev, ok := seen[kind]; ok {
			return populate.Request{}, fmt.Errorf("%w: %q and %q", ErrDuplicateKind, prev, name)
		}
		seen[kind] = name
		req.Set(kind, n)
	}
	return req, req.Validate()
}

// Validate reports whether opts would be accepted by Populate.
func (m *Manager) Validate(opts Options) error {
	_, err := m.request(opts)
	return err
}

// Populate pushes the requested datasets onto the device.
func (m *Manager) Populate(opts Options) error {
	req, err := m.request(opts)
	if err != nil {
		return err
	}
	var popts []populate.Option
	if opts.Seed != 0 {
		popts = append(popts, populate.WithSeed(opts.Seed))
	}
	if opts.Progress != nil {
		progress := opts.Progress
		popts = append(popts, populate.WithProgress(func(kind populate.DataKind, done, total int) {
			progress(kind.Plural(), done, total)
		}))
	}
	factory := marionette.NewFactory(m.env.Address, opts.ScriptTimeout, m.env.StartTimeout)
	return populate.Run(m.env, req, factory, !opts.NoForward, popts...)
}

// Workload returns the per-kind counts of a named bundle.
func (m *Manager) Workload(name string) (map[string]int, error) {
	w, err := m.workloads.Lookup(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(w))
	for k, n := range w {
		out[k.Plural()] = n
	}
	return out, nil
}

// Workloads lists the known workload names.
func (m *Manager) Workloads() []string {
	return m.workloads.Names()
}

// LoadWorkloads merges bundles from a YAML file over the built-ins.
func (m *Manager) LoadWorkloads(path string) error {
	ws, err := populate.LoadWorkloads(path)
	if err != nil {
		return err
	}
	m.workloads = ws
	return nil
}

// Presets lists the snapshot markers of every structured kind.
func (m *Manager) Presets() []PresetInfo {
	var out []PresetInfo
	for _, k := range populate.Kinds {
		p, ok := populate.PresetFor(k)
		if !ok {
			continue
		}
		out = append(out, PresetInfo{Kind: k.Plural(), Markers: p.Markers, Remainder: p.Remainder})
	}
	return out
}

// InspectPresets opens every bundled snapshot of kind and counts its records.
func (m *Manager) InspectPresets(kind string) ([]SnapshotInfo, error) {
	k, err := populate.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	infos, err := populate.InspectPresets(m.env, k)
	if err != nil {
		return nil, err
	}
	out := make([]SnapshotInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, SnapshotInfo{Marker: i.Marker, Entry: i.Entry, Records: i.Records, Size: i.Size, Digest: i.Digest})
	}
	return out, nil
}
