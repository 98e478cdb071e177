// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package populate

import (
	"fmt"
	"net"
	"strconv"
)

// SplitAddress parses a host:port automation address.
func SplitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid address %q: bad port %q", address, portStr)
	}
	return host, port, nil
}

// Run populates the device selected by env over adb. When forward is set
// the host port of env.Address is forwarded to DevicePort first. The request is
// validated before any adb command runs.
func Run(env Env, req Request, dataLayers DataLayerFactory, forward bool, opts ...Option) error {
	if err := req.Validate(); err != nil {
		return err
	}
	_, port, err := SplitAddress(env.Address)
	if err != nil {
		return err
	}
	device := NewADBDevice(env)
	if forward {
		ctx := spanContext(env)
		if err := device.Forward(ctx, port, DevicePort); err != nil {
			return fmt.Errorf("forward automation port: %w", err)
		}
		logEvent(env, "port forwarded", "port", port, "device_port", DevicePort)
	}
	p := New(env, device, dataLayers, opts...)
	err = p.Populate(req)
	if cerr := p.Close(); cerr != nil {
		logEvent(env, "data layer close failed", "error", cerr)
	}
	return err
}
