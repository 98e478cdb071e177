// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// newStubADB writes an adb stand-in that appends its arguments to a log
// file and answers the few shell commands the device code relies on.
func newStubADB(t *testing.T) (Env, string) {
	t.Helper()
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "adb.log")
	adbPath := filepath.Join(tempDir, "adb")
	adbScript := "#!/bin/sh\n" +
		"echo \"$@\" >> " + logPath + "\n" +
		"if [ \"$1\" = \"-s\" ]; then shift 2; fi\n" +
		"case \"$1 $2\" in\n" +
		"  \"shell pidof\"*)\n" +
		"    if [ -n \"$STUB_PIDOF_MISSING\" ]; then echo 'sh: pidof: not found'; echo status=127; exit 0; fi\n" +
		"    if [ -n \"$STUB_PIDOF\" ]; then echo \"$STUB_PIDOF\"; echo status=0; else echo status=1; fi\n" +
		"    ;;\n" +
		"  \"shell ls\")\n" +
		"    printf 'first\\nsecond\\n\\n'\n" +
		"    ;;\n" +
		"  \"shell getprop\")\n" +
		"    if [ -n \"$STUB_SDK_FAIL_ONCE\" ] && [ ! -e \"$STUB_SDK_FAIL_ONCE\" ]; then\n" +
		"      touch \"$STUB_SDK_FAIL_ONCE\"; echo 'error: closed' >&2; exit 1\n" +
		"    fi\n" +
		"    echo \"$STUB_SDK\"\n" +
		"    ;;\n" +
		"  \"shell explode\")\n" +
		"    echo \"device offline\" >&2\n" +
		"    exit 1\n" +
		"    ;;\n" +
		"esac\n" +
		"exit 0\n"
	if err := os.WriteFile(adbPath, []byte(adbScript), 0o755); err != nil {
		t.Fatalf("write adb script: %v", err)
	}
	env := Env{
		ADB:     adbPath,
		Serial:  "emulator-5554",
		Context: context.Background(),
		Logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	return env, logPath
}

func readADBLog(t *testing.T, logPath string) []string {
	t.Helper()
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read adb log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestADBDevicePassesSerialAndArguments(t *testing.T) {
	env, logPath := newStubADB(t)
	d := NewADBDevice(env)
	ctx := context.Background()

	if err := d.Push(ctx, "/tmp/contactsDb-200.sqlite", testIndexDir+"/3406066227csotncta.sqlite"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := d.Remove(ctx, "/sdcard/Music/MUS_0001_1.mp3"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := d.Forward(ctx, 2828, 2828); err != nil {
		t.Fatalf("forward: %v", err)
	}

	want := []string{
		"-s emulator-5554 push /tmp/contactsDb-200.sqlite " + testIndexDir + "/3406066227csotncta.sqlite",
		"-s emulator-5554 shell rm -rf /sdcard/Music/MUS_0001_1.mp3",
		"-s emulator-5554 forward tcp:2828 tcp:2828",
	}
	if diff := cmp.Diff(want, readADBLog(t, logPath)); diff != "" {
		t.Fatalf("adb invocations mismatch (-want +got):\n%s", diff)
	}
}

func TestADBDeviceListSkipsBlankLines(t *testing.T) {
	env, _ := newStubADB(t)
	entries, err := NewADBDevice(env).List(context.Background(), DefaultIndexRoot)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "second"}, entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestADBDeviceFailureIncludesStderr(t *testing.T) {
	env, _ := newStubADB(t)
	_, err := NewADBDevice(env).Shell(context.Background(), "explode")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "device offline") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestADBDeviceIsAndroidBuildCachesAnswer(t *testing.T) {
	env, logPath := newStubADB(t)
	t.Setenv("STUB_SDK", "28")
	d := NewADBDevice(env)
	for i := 0; i < 2; i++ {
		android, err := d.IsAndroidBuild(context.Background())
		if err != nil || !android {
			t.Fatalf("expected android build, got %v (%v)", android, err)
		}
	}
	if n := len(readADBLog(t, logPath)); n != 1 {
		t.Fatalf("expected a single getprop call, got %d", n)
	}
}

func TestADBDeviceIsAndroidBuildRetriesFailedQuery(t *testing.T) {
	env, logPath := newStubADB(t)
	t.Setenv("STUB_SDK", "28")
	t.Setenv("STUB_SDK_FAIL_ONCE", filepath.Join(t.TempDir(), "failed"))
	d := NewADBDevice(env)
	ctx := context.Background()

	if _, err := d.IsAndroidBuild(ctx); err == nil || !strings.Contains(err.Error(), "error: closed") {
		t.Fatalf("expected first query to fail, got %v", err)
	}
	for i := 0; i < 2; i++ {
		android, err := d.IsAndroidBuild(ctx)
		if err != nil || !android {
			t.Fatalf("expected android build after retry, got %v (%v)", android, err)
		}
	}
	if n := len(readADBLog(t, logPath)); n != 2 {
		t.Fatalf("expected two getprop calls, got %d", n)
	}
}

func TestADBDeviceStopWaitsForProcessExit(t *testing.T) {
	env, logPath := newStubADB(t)
	t.Setenv("STUB_PIDOF", "")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	if err := d.StopProcess(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	calls := readADBLog(t, logPath)
	if calls[0] != "-s emulator-5554 shell stop b2g" {
		t.Fatalf("unexpected first call %q", calls[0])
	}
}

// serveEndpoint accepts connections on a local port, optionally writes a
// greeting, and closes them.
func serveEndpoint(t *testing.T, greeting string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if greeting != "" {
				_, _ = io.WriteString(conn, greeting)
			}
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func TestADBDeviceStartWaitsForEndpoint(t *testing.T) {
	env, _ := newStubADB(t)
	env.Address = serveEndpoint(t, `50:{"applicationType":"gecko","marionetteProtocol":3}`)
	t.Setenv("STUB_PIDOF", "412")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	if err := d.StartProcess(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func TestADBDeviceStartIgnoresSilentlyClosedEndpoint(t *testing.T) {
	env, _ := newStubADB(t)
	env.Address = serveEndpoint(t, "")
	t.Setenv("STUB_PIDOF", "412")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	err := d.StartProcess(context.Background(), 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected an endpoint that drops connections to never count as started")
	}
	if !strings.Contains(err.Error(), "closed the connection before the greeting") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestADBDeviceReportsMissingPidof(t *testing.T) {
	env, _ := newStubADB(t)
	t.Setenv("STUB_PIDOF_MISSING", "1")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	d.stopTimeout = 100 * time.Millisecond

	err := d.StopProcess(context.Background())
	if err == nil {
		t.Fatal("expected stop to fail when the process cannot be queried")
	}
	if !strings.Contains(err.Error(), "did not stop within 100ms") || !strings.Contains(err.Error(), "pidof b2g failed (127)") {
		t.Fatalf("unexpected stop error %v", err)
	}

	err = d.StartProcess(context.Background(), 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "pidof: not found") {
		t.Fatalf("expected pidof failure as last error, got %v", err)
	}
}

func TestADBDeviceStopReportsRunningPid(t *testing.T) {
	env, _ := newStubADB(t)
	t.Setenv("STUB_PIDOF", "412")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	d.stopTimeout = 50 * time.Millisecond
	err := d.StopProcess(context.Background())
	if err == nil || !strings.Contains(err.Error(), "b2g still running (pid 412)") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestADBDeviceStartTimesOut(t *testing.T) {
	env, _ := newStubADB(t)
	t.Setenv("STUB_PIDOF", "")
	d := NewADBDevice(env)
	d.pollInterval = 10 * time.Millisecond
	err := d.StartProcess(context.Background(), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "did not start within 100ms") ||
		!strings.Contains(err.Error(), "b2g not running") {
		t.Fatalf("unexpected error %v", err)
	}
}
