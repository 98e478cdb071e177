// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"context"
	"time"
)

// Device is the transport to the device under test.
type Device interface {
	// StopProcess stops the on-device process owning the index databases.
	StopProcess(ctx context.Context) error
	// StartProcess starts it again and waits until it is usable.
	StartProcess(ctx context.Context, timeout time.Duration) error
	// Push copies a local file or directory to a device path.
	Push(ctx context.Context, local, remote string) error
	Remove(ctx context.Context, remote string) error
	// List returns the entry names of a device directory.
	List(ctx context.Context, dir string) ([]string, error)
	Shell(ctx context.Context, args ...string) (string, error)
	// IsAndroidBuild reports whether media lives on Android storage volumes
	// that have to be resolved before removal.
	IsAndroidBuild(ctx context.Context) (bool, error)
}

// DataLayer is the live data API of the running device process.
type DataLayer interface {
	MediaFiles(ctx context.Context, kind DataKind) ([]string, error)
	InsertContact(ctx context.Context, c ContactRecord) error
}

// DataLayerFactory opens a data layer handle. Handles do not survive a
// device process restart, so a fresh one is acquired after each restart.
type DataLayerFactory func(ctx context.Context) (DataLayer, error)

// Field is a typed value such as a phone number or an email address.
type Field struct {
	Type  []string `json:"type"`
	Value string   `json:"value"`
}

// ContactRecord is the mozContact shaped record inserted for remainders.
type ContactRecord struct {
	Name       []string `json:"name"`
	GivenName  []string `json:"givenName"`
	FamilyName []string `json:"familyName"`
	Tel        []Field  `json:"tel"`
	Email      []Field  `json:"email"`
	Org        []string `json:"org"`
	JobTitle   []string `json:"jobTitle"`
	Note       []string `json:"note"`
}
