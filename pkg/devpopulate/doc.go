// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

/*
Package devpopulate provides a Go library for seeding a test device with
reference datasets, so performance and endurance runs start from a known
amount of user data.

# Quick Start

	import "github.com/forkbombeu/devpopulate/pkg/devpopulate"

	func main() {
		mgr := devpopulate.New()

		// 2150 contacts: the 2000 snapshot plus 150 generated records.
		err := mgr.Populate(devpopulate.Options{
			Counts: map[string]int{"contacts": 2150, "music": 30},
		})
		if err != nil {
			log.Fatal(err)
		}
	}

# Key Concepts

**Snapshot**: a pre-built index database holding exactly N records of a kind.
Calls, events and messages only accept the counts of their snapshots;
contacts accept any count and are topped up one record at a time.

**Restart**: snapshot databases can only be replaced while the device process
is stopped. Every snapshot of a run is pushed within a single stop/start.

**Media**: music, pictures and videos are cleared and then copied from a
template. Music copies are tagged as tracks of albums of ten.

**Workload**: a named bundle of counts (empty, light, medium, heavy,
x-heavy). Extra bundles can be loaded from YAML with LoadWorkloads.

# Environment Configuration

By default, the manager auto-detects its settings from environment variables:
  - DEVPOPULATE_ADB
  - DEVPOPULATE_ADDRESS
  - DEVPOPULATE_RESOURCES
  - DEVPOPULATE_INDEX_ROOT
  - DEVPOPULATE_START_TIMEOUT
  - ANDROID_SERIAL

Use NewWithEnv() to override them.

# Thread Safety

Manager instances are not thread-safe, and a device must only be populated
by one Manager at a time.

# License

AGPL-3.0-only

Copyright (C) 2025 Forkbomb B.V.
*/
package devpopulate
