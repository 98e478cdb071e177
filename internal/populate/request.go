// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Request holds one count per kind; a kind without a count is skipped.
type Request struct {
	counts [len(kindNames)]int
	set    [len(kindNames)]bool
}

func (r *Request) Set(kind DataKind, count int) {
	r.counts[kind] = count
	r.set[kind] = true
}

func (r Request) Get(kind DataKind) (int, bool) {
	return r.counts[kind], r.set[kind]
}

// Kinds returns the requested kinds in processing order.
func (r Request) Kinds() []DataKind {
	var out []DataKind
	for _, k := range Kinds {
		if r.set[k] {
			out = append(out, k)
		}
	}
	return out
}

func (r Request) Empty() bool { return len(r.Kinds()) == 0 }

// ValidateCount checks a single count against the constraint of its kind.
func ValidateCount(kind DataKind, count int) error {
	if count < 0 {
		return &InvalidCountError{Kind: kind, Count: count}
	}
	p, ok := PresetFor(kind)
	if !ok || p.Remainder {
		return nil
	}
	for _, m := range p.Markers {
		if m == count {
			return nil
		}
	}
	return &InvalidCountError{Kind: kind, Count: count, Accepted: p.Markers}
}

// Validate checks every requested count. It never touches the device.
func (r Request) Validate() error {
	kinds := r.Kinds()
	if len(kinds) == 0 {
		return ErrNothingRequested
	}
	for _, k := range kinds {
		if err := ValidateCount(k, r.counts[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r Request) String() string {
	var parts []string
	for _, k := range r.Kinds() {
		parts = append(parts, fmt.Sprintf("%s=%d", k.Plural(), r.counts[k]))
	}
	return strings.Join(parts, " ")
}

// Workload is a named bundle of per-kind counts.
type Workload map[DataKind]int

// Request expands the workload; every kind of the bundle is set.
func (w Workload) Request() Request {
	var r Request
	for _, k := range Kinds {
		if n, ok := w[k]; ok {
			r.Set(k, n)
		}
	}
	return r
}

var builtinWorkloads = map[string]Workload{
	"empty":   {Call: 0, Contact: 0, Event: 0, Message: 0, Music: 0, Picture: 0, Video: 0},
	"light":   {Call: 50, Contact: 200, Event: 900, Message: 200, Music: 20, Picture: 20, Video: 5},
	"medium":  {Call: 100, Contact: 500, Event: 1300, Message: 500, Music: 50, Picture: 50, Video: 10},
	"heavy":   {Call: 200, Contact: 1000, Event: 2400, Message: 1000, Music: 100, Picture: 100, Video: 20},
	"x-heavy": {Call: 500, Contact: 2000, Event: 3200, Message: 2000, Music: 250, Picture: 250, Video: 50},
}

// Workloads is the set of workload bundles known to a run.
type Workloads map[string]Workload

// DefaultWorkloads returns a copy of the built-in bundles.
func DefaultWorkloads() Workloads {
	out := make(Workloads, len(builtinWorkloads))
	for name, w := range builtinWorkloads {
		c := make(Workload, len(w))
		for k, n := range w {
			c[k] = n
		}
		out[name] = c
	}
	return out
}

func (ws Workloads) Names() []string {
	names := make([]string, 0, len(ws))
	for name := range ws {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ws Workloads) Lookup(name string) (Workload, error) {
	w, ok := ws[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q (use one of: %s)", name, strings.Join(ws.Names(), ", "))
	}
	return w, nil
}

// LoadWorkloads reads extra bundles from a YAML file of the form
//
//	soak:
//	  contacts: 3000
//	  music: 400
//
// and merges them over the built-ins. Every count is validated.
func LoadWorkloads(path string) (Workloads, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload file: %w", err)
	}
	var raw map[string]map[string]int
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse workload file %s: %w", path, err)
	}
	ws := DefaultWorkloads()
	for name, counts := range raw {
		w := make(Workload, len(counts))
		for key, n := range counts {
			k, err := ParseKind(key)
			if err != nil {
				return nil, fmt.Errorf("workload %s: %w", name, err)
			}
			if err := ValidateCount(k, n); err != nil {
				return nil, fmt.Errorf("workload %s: %w", name, err)
			}
			w[k] = n
		}
		ws[name] = w
	}
	return ws, nil
}
