// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"

	units "github.com/docker/go-units"
	"go.opentelemetry.io/otel/attribute"
)

// indexDirPattern matches the index database directory, whose name differs
// between OS versions.
var indexDirPattern = regexp.MustCompile(`^\d+.*idb$`)

// ProgressFunc receives the number of records or files in place for a kind.
type ProgressFunc func(kind DataKind, done, total int)

// Populator pushes datasets onto one device. It is not safe for concurrent use.
type Populator struct {
	env          Env
	device       Device
	newDataLayer DataLayerFactory
	dataLayer    DataLayer

	contacts *contactGenerator
	progress ProgressFunc
	sleep    func(time.Duration)
}

type Option func(*Populator)

func WithProgress(fn ProgressFunc) Option {
	return func(p *Populator) { p.progress = fn }
}

// WithSeed fixes the seed of generated records.
func WithSeed(seed uint64) Option {
	return func(p *Populator) { p.contacts = newContactGenerator(seed) }
}

func New(env Env, device Device, dataLayers DataLayerFactory, opts ...Option) *Populator {
	p := &Populator{
		env:          env,
		device:       device,
		newDataLayer: dataLayers,
		contacts:     newContactGenerator(uint64(time.Now().UnixNano())),
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Populate applies every requested count. Counts are validated before the
// device is touched. Structured snapshots are pushed inside a single
// stop/start of the device process; remainders and media follow the restart.
func (p *Populator) Populate(req Request) error {
	ctx, span := startSpan(p.env, "populate.Populate", attribute.String("request", req.String()))
	defer span.End()

	if err := req.Validate(); err != nil {
		recordSpanError(span, err)
		return err
	}
	logEvent(p.env, "populate start", "request", req.String())
	start := time.Now()

	var snapshots []Snapshot
	var media []DataKind
	for _, k := range req.Kinds() {
		n, _ := req.Get(k)
		if k.IsMedia() {
			media = append(media, k)
			continue
		}
		snap, err := SelectSnapshot(k, n)
		if err != nil {
			recordSpanError(span, err)
			return err
		}
		snapshots = append(snapshots, snap)
	}

	if len(snapshots) > 0 {
		indexDir, err := p.discoverIndexDir(ctx)
		if err != nil {
			recordSpanError(span, err)
			return err
		}
		err = p.withProcessStopped(ctx, func(ctx context.Context) error {
			for _, snap := range snapshots {
				if err := p.pushSnapshot(ctx, indexDir, snap); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			recordSpanError(span, err)
			return err
		}
		for _, snap := range snapshots {
			if snap.Remainder == 0 {
				continue
			}
			if err := p.synthesize(ctx, snap); err != nil {
				recordSpanError(span, err)
				return err
			}
		}
	}

	for _, k := range media {
		n, _ := req.Get(k)
		if err := p.populateMedia(ctx, k, n); err != nil {
			recordSpanError(span, err)
			return err
		}
	}

	logEvent(p.env, "populate finished", "request", req.String(), "elapsed", time.Since(start).String())
	return nil
}

// Close releases the current data layer handle, if any.
func (p *Populator) Close() error {
	return p.dropDataLayer()
}

func (p *Populator) discoverIndexDir(ctx context.Context) (string, error) {
	entries, err := p.device.List(ctx, p.env.IndexRoot)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", p.env.IndexRoot, err)
	}
	for _, e := range entries {
		if indexDirPattern.MatchString(e) {
			dir := path.Join(p.env.IndexRoot, e)
			logDebug(p.env, "index directory discovered", "path", dir)
			return dir, nil
		}
	}
	return "", fmt.Errorf("no index directory matching %s under %s", indexDirPattern, p.env.IndexRoot)
}

// withProcessStopped holds the device process stopped while fn overwrites
// the index databases, then starts it exactly once. The process is started
// even when fn fails; a start failure is fatal and not retried.
func (p *Populator) withProcessStopped(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "populate.withProcessStopped")
	defer span.End()

	if err := p.dropDataLayer(); err != nil {
		logEvent(p.env, "data layer close failed", "error", err)
	}
	if err := p.device.StopProcess(ctx); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("stop device process: %w", err)
	}
	fnErr := fn(ctx)

	timeout := p.env.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	if err := p.device.StartProcess(ctx, timeout); err != nil {
		err = errors.Join(fnErr, fmt.Errorf("restart device process: %w", err))
		recordSpanError(span, err)
		return err
	}
	if fnErr != nil {
		recordSpanError(span, fnErr)
	}
	return fnErr
}

func (p *Populator) pushSnapshot(ctx context.Context, indexDir string, snap Snapshot) error {
	preset, _ := PresetFor(snap.Kind)
	extracted, err := extractSnapshot(p.env.ResourcesDir, preset, snap.Marker)
	if err != nil {
		return fmt.Errorf("extract %s snapshot %d: %w", snap.Kind, snap.Marker, err)
	}
	defer extracted.cleanup()

	remote := preset.DevicePath(indexDir)
	logEvent(p.env, "snapshot push",
		"kind", snap.Kind.String(),
		"marker", snap.Marker,
		"remote", remote,
		"size", units.HumanSize(float64(extracted.size)),
		"digest", extracted.digest,
	)
	if err := p.device.Push(ctx, extracted.db, remote); err != nil {
		return fmt.Errorf("push %s snapshot %d: %w", snap.Kind, snap.Marker, err)
	}

	attachments := path.Join(indexDir, preset.AttachmentDir())
	if err := p.device.Remove(ctx, attachments); err != nil {
		return fmt.Errorf("remove %s attachments: %w", snap.Kind, err)
	}
	if extracted.attachments != "" {
		if err := p.device.Push(ctx, extracted.attachments, attachments); err != nil {
			return fmt.Errorf("push %s attachments %d: %w", snap.Kind, snap.Marker, err)
		}
	}
	p.report(snap.Kind, snap.Marker, snap.Marker+snap.Remainder)
	return nil
}

// synthesize tops up a snapshot with single-record inserts. The first
// failing insert stops the kind; earlier records are kept.
func (p *Populator) synthesize(ctx context.Context, snap Snapshot) error {
	ctx, span := tracer.Start(ctx, "populate.synthesize")
	span.SetAttributes(
		attribute.String("kind", snap.Kind.String()),
		attribute.Int("marker", snap.Marker),
		attribute.Int("remainder", snap.Remainder),
	)
	defer span.End()

	if snap.Kind != Contact {
		err := fmt.Errorf("%s has no single-record insert", snap.Kind)
		recordSpanError(span, err)
		return err
	}
	dl, err := p.data(ctx)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	total := snap.Marker + snap.Remainder
	logEvent(p.env, "remainder insert start", "kind", snap.Kind.String(), "marker", snap.Marker, "remainder", snap.Remainder)
	for i := 1; i <= snap.Remainder; i++ {
		if err := dl.InsertContact(ctx, p.contacts.next(i)); err != nil {
			err = &InsertError{Kind: snap.Kind, Index: i, Total: snap.Remainder, Err: err}
			recordSpanError(span, err)
			return err
		}
		p.report(snap.Kind, snap.Marker+i, total)
	}
	return nil
}

// data returns the current data layer, opening one if the previous handle
// was dropped by a restart.
func (p *Populator) data(ctx context.Context) (DataLayer, error) {
	if p.dataLayer != nil {
		return p.dataLayer, nil
	}
	if p.newDataLayer == nil {
		return nil, errors.New("no data layer configured")
	}
	dl, err := p.newDataLayer(ctx)
	if err != nil {
		return nil, fmt.Errorf("open data layer: %w", err)
	}
	logDebug(p.env, "data layer acquired")
	p.dataLayer = dl
	return dl, nil
}

func (p *Populator) dropDataLayer() error {
	dl := p.dataLayer
	p.dataLayer = nil
	if c, ok := dl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *Populator) report(kind DataKind, done, total int) {
	logDebug(p.env, "progress", "kind", kind.String(), "done", done, "total", total)
	if p.progress != nil {
		p.progress(kind, done, total)
	}
}
