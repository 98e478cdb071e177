// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

type Env struct {
	ADB          string        // adb
	Serial       string        // ANDROID_SERIAL (optional with a single device attached)
	Address      string        // DEVPOPULATE_ADDRESS (default localhost:2828)
	ResourcesDir string        // DEVPOPULATE_RESOURCES (default ./resources)
	IndexRoot    string        // DEVPOPULATE_INDEX_ROOT
	StartTimeout time.Duration // DEVPOPULATE_START_TIMEOUT (default 60s)
	RemovalGrace time.Duration // wait before re-checking media removal
	// CorrelationID is used to tie logs to a specific populate run.
	CorrelationID string
	// Context is used to parent OpenTelemetry spans.
	Context context.Context
	// Logger receives structured events; the package logger is used when nil.
	Logger *slog.Logger
}

const (
	DefaultAddress      = "localhost:2828"
	DefaultIndexRoot    = "/data/local/storage/persistent/chrome"
	DefaultStartTimeout = 60 * time.Second
	DefaultRemovalGrace = 5 * time.Second

	// DevicePort is where Marionette listens on the device, whatever host
	// port it is forwarded to.
	DevicePort = 2828
)

func Detect() Env {
	correlationID := getenv("DEVPOPULATE_CORRELATION_ID", "")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	startTimeout := DefaultStartTimeout
	if v := os.Getenv("DEVPOPULATE_START_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			startTimeout = d
		}
	}

	return Env{
		ADB:           getenv("DEVPOPULATE_ADB", "adb"),
		Serial:        os.Getenv("ANDROID_SERIAL"),
		Address:       getenv("DEVPOPULATE_ADDRESS", DefaultAddress),
		ResourcesDir:  getenv("DEVPOPULATE_RESOURCES", "resources"),
		IndexRoot:     getenv("DEVPOPULATE_INDEX_ROOT", DefaultIndexRoot),
		StartTimeout:  startTimeout,
		RemovalGrace:  DefaultRemovalGrace,
		CorrelationID: correlationID,
		Context:       context.Background(),
	}
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
