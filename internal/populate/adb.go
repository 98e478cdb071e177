// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// deviceProcess is the on-device process holding the index databases.
const deviceProcess = "b2g"

// ADBDevice drives a device through the adb binary configured in Env.
type ADBDevice struct {
	env Env

	androidMu    sync.Mutex
	android      bool
	androidKnown bool

	pollInterval time.Duration
	stopTimeout  time.Duration
}

func NewADBDevice(env Env) *ADBDevice {
	return &ADBDevice{
		env:          env,
		pollInterval: 500 * time.Millisecond,
		stopTimeout:  30 * time.Second,
	}
}

func (d *ADBDevice) deviceArgs(args ...string) []string {
	if d.env.Serial == "" {
		return args
	}
	return append([]string{"-s", d.env.Serial}, args...)
}

func (d *ADBDevice) run(ctx context.Context, args ...string) ([]byte, error) {
	full := d.deviceArgs(args...)
	cmd := exec.CommandContext(ctx, d.env.ADB, full...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.MultiWriter(&errBuf, newCommandLogWriter(d.env, d.env.ADB, full))
	if err := cmd.Run(); err != nil {
		return out.Bytes(), fmt.Errorf("%s %v failed: %v\n%s", d.env.ADB, full, err, errBuf.String())
	}
	return out.Bytes(), nil
}

func (d *ADBDevice) Shell(ctx context.Context, args ...string) (string, error) {
	out, err := d.run(ctx, append([]string{"shell"}, args...)...)
	return strings.TrimSpace(string(out)), err
}

func (d *ADBDevice) Push(ctx context.Context, local, remote string) error {
	_, err := d.run(ctx, "push", local, remote)
	return err
}

func (d *ADBDevice) Remove(ctx context.Context, remote string) error {
	_, err := d.Shell(ctx, "rm", "-rf", remote)
	return err
}

func (d *ADBDevice) List(ctx context.Context, dir string) ([]string, error) {
	out, err := d.Shell(ctx, "ls", dir)
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "No such file or directory") {
			continue
		}
		entries = append(entries, line)
	}
	return entries, nil
}

// Forward forwards a host TCP port to a device TCP port.
func (d *ADBDevice) Forward(ctx context.Context, local, remote int) error {
	_, err := d.run(ctx, "forward", fmt.Sprintf("tcp:%d", local), fmt.Sprintf("tcp:%d", remote))
	return err
}

// IsAndroidBuild asks the device once; a failed query is not cached.
func (d *ADBDevice) IsAndroidBuild(ctx context.Context) (bool, error) {
	d.androidMu.Lock()
	defer d.androidMu.Unlock()
	if d.androidKnown {
		return d.android, nil
	}
	out, err := d.Shell(ctx, "getprop", "ro.build.version.sdk")
	if err != nil {
		return false, err
	}
	d.android, d.androidKnown = out != "", true
	return d.android, nil
}

// pid returns the device process id, empty when it is not running. The
// exit status is echoed because older adb versions drop it.
func (d *ADBDevice) pid(ctx context.Context) (string, error) {
	out, err := d.Shell(ctx, "pidof "+deviceProcess+"; echo status=$?")
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	status := strings.TrimSpace(lines[len(lines)-1])
	pid := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
	switch status {
	case "status=0":
		return pid, nil
	case "status=1":
		// pidof found nothing.
		return "", nil
	}
	return "", fmt.Errorf("pidof %s failed (%s): %s", deviceProcess, strings.TrimPrefix(status, "status="), pid)
}

func (d *ADBDevice) StopProcess(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "adb.StopProcess")
	defer span.End()
	logEvent(d.env, "device process stop requested", "serial", d.env.Serial, "process", deviceProcess)
	if _, err := d.Shell(ctx, "stop", deviceProcess); err != nil {
		recordSpanError(span, err)
		return err
	}
	deadline := time.Now().Add(d.stopTimeout)
	lastError := ""
	for time.Now().Before(deadline) {
		pid, err := d.pid(ctx)
		switch {
		case err != nil:
			lastError = err.Error()
		case pid == "":
			logEvent(d.env, "device process stopped", "serial", d.env.Serial)
			return nil
		default:
			lastError = fmt.Sprintf("%s still running (pid %s)", deviceProcess, pid)
		}
		time.Sleep(d.pollInterval)
	}
	logEvent(d.env, "device process stop timeout", "serial", d.env.Serial, "timeout", d.stopTimeout.String(), "last_error", lastError)
	err := fmt.Errorf("%s did not stop within %s\nLast error: %s", deviceProcess, d.stopTimeout, lastError)
	recordSpanError(span, err)
	return err
}

// StartProcess starts the device process and waits until it runs and the
// automation endpoint sends its greeting.
func (d *ADBDevice) StartProcess(ctx context.Context, timeout time.Duration) error {
	ctx, span := tracer.Start(ctx, "adb.StartProcess")
	span.SetAttributes(attribute.String("timeout", timeout.String()))
	defer span.End()
	logEvent(d.env, "device process start requested", "serial", d.env.Serial, "timeout", timeout.String())
	start := time.Now()
	if _, err := d.Shell(ctx, "start", deviceProcess); err != nil {
		recordSpanError(span, err)
		return err
	}

	deadline := start.Add(timeout)
	lastError := ""
	for time.Now().Before(deadline) {
		pid, err := d.pid(ctx)
		switch {
		case err != nil:
			lastError = err.Error()
		case pid == "":
			lastError = deviceProcess + " not running"
		default:
			if err := d.endpointReady(); err != nil {
				lastError = err.Error()
				break
			}
			span.SetAttributes(attribute.Bool("started", true))
			logEvent(d.env, "device process started", "serial", d.env.Serial, "pid", pid, "elapsed", time.Since(start).String())
			return nil
		}
		time.Sleep(d.pollInterval)
	}

	logEvent(d.env, "device process start timeout", "serial", d.env.Serial, "timeout", timeout.String(), "last_error", lastError)
	err := fmt.Errorf("%s did not start within %s", deviceProcess, timeout)
	if lastError != "" {
		err = fmt.Errorf("%w\nLast error: %s", err, lastError)
	}
	recordSpanError(span, err)
	return err
}

// endpointReady reports whether the automation endpoint sends data after
// connecting. A port forwarded by adb accepts connections before anything
// listens on the device and then closes them.
func (d *ADBDevice) endpointReady() error {
	if d.env.Address == "" {
		return nil
	}
	conn, err := net.DialTimeout("tcp", d.env.Address, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s closed the connection before the greeting", d.env.Address)
		}
		return fmt.Errorf("no greeting from %s: %w", d.env.Address, err)
	}
	return nil
}
