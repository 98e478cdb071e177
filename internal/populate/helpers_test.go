// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

const testIndexDir = DefaultIndexRoot + "/1451318868ntouromtsetapromoidb"

// fakeDevice is an in-memory device. It records every call in order.
type fakeDevice struct {
	calls   []string
	files   map[string][]byte
	entries map[string][]string

	android   bool
	volumes   map[string]string // readlink -f results
	protected map[string]bool   // Remove succeeds but the file stays

	failStop  error
	failStart error
	failPush  map[string]error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		files: map[string][]byte{},
		entries: map[string][]string{
			DefaultIndexRoot: {"chrome", "1451318868ntouromtsetapromoidb"},
		},
		volumes:   map[string]string{},
		protected: map[string]bool{},
		failPush:  map[string]error{},
	}
}

func (d *fakeDevice) record(format string, args ...any) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) StopProcess(ctx context.Context) error {
	d.record("stop")
	return d.failStop
}

func (d *fakeDevice) StartProcess(ctx context.Context, timeout time.Duration) error {
	d.record("start")
	return d.failStart
}

func (d *fakeDevice) Push(ctx context.Context, local, remote string) error {
	d.record("push %s", remote)
	if err := d.failPush[remote]; err != nil {
		return err
	}
	st, err := os.Stat(local)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return filepath.Walk(local, func(p string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			rel, _ := filepath.Rel(local, p)
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			d.files[path.Join(remote, filepath.ToSlash(rel))] = data
			return nil
		})
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	d.files[remote] = data
	return nil
}

func (d *fakeDevice) Remove(ctx context.Context, remote string) error {
	d.record("remove %s", remote)
	for alias, real := range d.volumes {
		if real == remote {
			remote = alias
		}
	}
	for name := range d.files {
		if name == remote || strings.HasPrefix(name, remote+"/") {
			if !d.protected[name] {
				delete(d.files, name)
			}
		}
	}
	return nil
}

func (d *fakeDevice) List(ctx context.Context, dir string) ([]string, error) {
	d.record("list %s", dir)
	return d.entries[dir], nil
}

func (d *fakeDevice) Shell(ctx context.Context, args ...string) (string, error) {
	d.record("shell %s", strings.Join(args, " "))
	if len(args) == 3 && args[0] == "readlink" {
		if real, ok := d.volumes[args[2]]; ok {
			return real, nil
		}
		return args[2], nil
	}
	return "", nil
}

func (d *fakeDevice) IsAndroidBuild(ctx context.Context) (bool, error) {
	return d.android, nil
}

func (d *fakeDevice) count(prefix string) int {
	n := 0
	for _, c := range d.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDevice) index(call string) int {
	for i, c := range d.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// fakeDataLayer lists media straight from the fake device's files.
type fakeDataLayer struct {
	device  *fakeDevice
	inserts []ContactRecord
	failAt  int
	closed  bool

	staleListings int
	last          map[DataKind][]string
}

func (l *fakeDataLayer) MediaFiles(ctx context.Context, kind DataKind) ([]string, error) {
	l.device.record("media %s", kind)
	if l.staleListings > 0 && l.last[kind] != nil {
		l.staleListings--
		return l.last[kind], nil
	}
	tpl, _ := TemplateFor(kind)
	var out []string
	for name := range l.device.files {
		if path.Dir(name) == tpl.Destination && path.Ext(name) == path.Ext(tpl.Source) {
			out = append(out, strings.TrimPrefix(name, mediaRoot+"/"))
		}
	}
	sort.Strings(out)
	if l.last == nil {
		l.last = map[DataKind][]string{}
	}
	l.last[kind] = out
	return out, nil
}

func (l *fakeDataLayer) InsertContact(ctx context.Context, c ContactRecord) error {
	if l.failAt > 0 && len(l.inserts)+1 == l.failAt {
		return errors.New("contacts database busy")
	}
	l.device.record("insert contact")
	l.inserts = append(l.inserts, c)
	return nil
}

func (l *fakeDataLayer) Close() error {
	l.closed = true
	return nil
}

// fakeFactory hands out data layers and remembers each of them.
type fakeFactory struct {
	device *fakeDevice
	opened []*fakeDataLayer
	setup  func(*fakeDataLayer)
}

func (f *fakeFactory) open(ctx context.Context) (DataLayer, error) {
	f.device.record("open data layer")
	l := &fakeDataLayer{device: f.device}
	if f.setup != nil {
		f.setup(l)
	}
	f.opened = append(f.opened, l)
	return l, nil
}

func (f *fakeFactory) current() *fakeDataLayer {
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// writeResources lays out a resources directory with every preset archive,
// an attachment archive for the 200 message snapshot and media templates.
func writeResources(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []DataKind{Call, Contact, Event, Message} {
		p, _ := PresetFor(k)
		entries := map[string]string{}
		for _, m := range p.Markers {
			entries[p.Entry(m)] = fmt.Sprintf("%s-%d", p.Prefix, m)
		}
		writeZip(t, filepath.Join(dir, p.Archive()), entries)
	}
	msg, _ := PresetFor(Message)
	writeZip(t, filepath.Join(dir, msg.AttachmentArchive(200)), map[string]string{
		"1/photo.jpg": "photo",
		"2/clip.3gp":  "clip",
	})
	for _, k := range []DataKind{Music, Picture, Video} {
		tpl, _ := TemplateFor(k)
		if err := os.WriteFile(filepath.Join(dir, tpl.Source), []byte("template "+tpl.Source), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
	return dir
}

func writeZip(t *testing.T, dst string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(dst)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("zip file close: %v", err)
	}
}

type testRig struct {
	env       Env
	device    *fakeDevice
	factory   *fakeFactory
	populator *Populator
	sleeps    []time.Duration
	progress  map[DataKind][]int
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		device:   newFakeDevice(),
		progress: map[DataKind][]int{},
	}
	rig.factory = &fakeFactory{device: rig.device}
	rig.env = Env{
		ResourcesDir:  writeResources(t),
		IndexRoot:     DefaultIndexRoot,
		StartTimeout:  time.Second,
		RemovalGrace:  5 * time.Second,
		CorrelationID: "corr-test",
		Context:       context.Background(),
		Logger:        slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	rig.populator = New(rig.env, rig.device, rig.factory.open,
		WithSeed(1),
		WithProgress(func(kind DataKind, done, total int) {
			rig.progress[kind] = append(rig.progress[kind], done)
		}),
	)
	rig.populator.sleep = func(d time.Duration) { rig.sleeps = append(rig.sleeps, d) }
	return rig
}

func request(counts map[DataKind]int) Request {
	var r Request
	for k, n := range counts {
		r.Set(k, n)
	}
	return r
}
