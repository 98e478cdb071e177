// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package marionette

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forkbombeu/devpopulate/internal/populate"
)

const insertContactScript = `
var contact = new mozContact(arguments[0]);
var req = window.navigator.mozContacts.save(contact);
req.onsuccess = function () { marionetteScriptFinished(true); };
req.onerror = function () { marionetteScriptFinished(String(req.error && req.error.name)); };
`

const mediaFilesScript = `
var storage = navigator.getDeviceStorage(arguments[0]);
var files = [];
var cursor = storage.enumerate();
cursor.onsuccess = function () {
  var file = this.result;
  if (!file) { marionetteScriptFinished(files); return; }
  files.push(file.name);
  this.continue();
};
cursor.onerror = function () { marionetteScriptFinished(String(cursor.error && cursor.error.name)); };
`

// DefaultScriptTimeout bounds a single data layer script.
const DefaultScriptTimeout = 30 * time.Second

// DataLayer reads and writes device data through scripts run in a
// Marionette session.
type DataLayer struct {
	client        *Client
	scriptTimeout time.Duration
}

// Open dials address, starts a session and returns a data layer over it.
func Open(ctx context.Context, address string, scriptTimeout time.Duration) (*DataLayer, error) {
	if scriptTimeout <= 0 {
		scriptTimeout = DefaultScriptTimeout
	}
	client, err := Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := client.NewSession(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := client.SetContext(ctx, "chrome"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set context: %w", err)
	}
	return &DataLayer{client: client, scriptTimeout: scriptTimeout}, nil
}

// readyPoll is the pause between attempts while the endpoint is not ready.
const readyPoll = 250 * time.Millisecond

// OpenWhenReady calls Open until the endpoint greets or readyTimeout
// passes. Only NotReadyError is retried.
func OpenWhenReady(ctx context.Context, address string, scriptTimeout, readyTimeout time.Duration) (*DataLayer, error) {
	deadline := time.Now().Add(readyTimeout)
	for {
		dl, err := Open(ctx, address, scriptTimeout)
		if err == nil {
			return dl, nil
		}
		var notReady *NotReadyError
		if !errors.As(err, &notReady) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			if readyTimeout > 0 {
				return nil, fmt.Errorf("gave up after %s: %w", readyTimeout, err)
			}
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-time.After(readyPoll):
		}
	}
}

// NewFactory returns a factory opening a new session on every call, as
// sessions do not survive a restart of the device process. Each call waits
// up to readyTimeout for the endpoint to greet.
func NewFactory(address string, scriptTimeout, readyTimeout time.Duration) populate.DataLayerFactory {
	return func(ctx context.Context) (populate.DataLayer, error) {
		dl, err := OpenWhenReady(ctx, address, scriptTimeout, readyTimeout)
		if err != nil {
			return nil, err
		}
		return dl, nil
	}
}

func (d *DataLayer) MediaFiles(ctx context.Context, kind populate.DataKind) ([]string, error) {
	tpl, ok := populate.TemplateFor(kind)
	if !ok {
		return nil, fmt.Errorf("%s is not a media kind", kind)
	}
	raw, err := d.client.ExecuteAsyncScript(ctx, mediaFilesScript, []any{tpl.Storage}, d.scriptTimeout)
	if err != nil {
		return nil, err
	}
	var files []string
	if err := json.Unmarshal(raw, &files); err != nil {
		var failure string
		if json.Unmarshal(raw, &failure) == nil {
			return nil, fmt.Errorf("enumerate %s storage: %s", tpl.Storage, failure)
		}
		return nil, fmt.Errorf("decode %s listing: %w", tpl.Storage, err)
	}
	return files, nil
}

func (d *DataLayer) InsertContact(ctx context.Context, c populate.ContactRecord) error {
	raw, err := d.client.ExecuteAsyncScript(ctx, insertContactScript, []any{c}, d.scriptTimeout)
	if err != nil {
		return err
	}
	var ok bool
	if err := json.Unmarshal(raw, &ok); err == nil && ok {
		return nil
	}
	return fmt.Errorf("save contact: %s", raw)
}

func (d *DataLayer) Close() error {
	return d.client.Close()
}
