// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import "fmt"

// Snapshot is the chosen preset for a requested count.
type Snapshot struct {
	Kind      DataKind
	Marker    int
	Remainder int
}

// SelectSnapshot picks the greatest marker not exceeding count. The marker
// 0 is always present so a validated count always has a snapshot.
func SelectSnapshot(kind DataKind, count int) (Snapshot, error) {
	p, ok := PresetFor(kind)
	if !ok {
		return Snapshot{}, fmt.Errorf("%s has no preset snapshots", kind)
	}
	if count < 0 {
		return Snapshot{}, &InvalidCountError{Kind: kind, Count: count}
	}
	for i := len(p.Markers) - 1; i >= 0; i-- {
		if m := p.Markers[i]; m <= count {
			return Snapshot{Kind: kind, Marker: m, Remainder: count - m}, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%s preset table has no marker for %d", kind, count)
}
