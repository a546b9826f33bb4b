// Copyright 2026 The hisiflash-go Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hisiflash-go/hisiflash"
	"github.com/hisiflash-go/hisiflash/detection"
	serialport "github.com/hisiflash-go/hisiflash/port/serial"
)

// detector implements the Detector interface for USB-UART serial ports.
type detector struct{}

// New creates a new UART detector.
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import.
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type.
func (*detector) Transport() string {
	return "uart"
}

// Detect searches for USB-UART bridges that look like a flashable target.
func (d *detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := d.enumeratePorts(ctx)
	if err != nil {
		return nil, err
	}

	filteredPorts := d.filterPorts(ports, opts)
	devices := d.processPortsToDevices(ctx, filteredPorts, opts)

	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return devices, nil
}

// enumeratePorts gets the list of available serial ports.
func (*detector) enumeratePorts(ctx context.Context) ([]serialPort, error) {
	ports, err := getSerialPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, detection.ErrNoDevicesFound
	}

	return ports, nil
}

// filterPorts removes blocked or ignored devices from the port list.
func (d *detector) filterPorts(ports []serialPort, opts *detection.Options) []serialPort {
	var filtered []serialPort
	for _, port := range ports {
		// Skip blocked devices.
		if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
			continue
		}

		// Skip explicitly ignored device paths.
		if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
			continue
		}

		portCopy := port
		if d.shouldIncludePort(&portCopy) {
			filtered = append(filtered, port)
		}
	}
	return filtered
}

// shouldIncludePort decides whether a port is worth reporting at all.
// Even Passive mode still needs to discard ports that obviously aren't
// USB-UART bridges, such as a builtin ttyS port with no VID/PID.
func (*detector) shouldIncludePort(port *serialPort) bool {
	return isKnownBridge(port) || isLikelyHiSilicon(port) || port.VIDPID != ""
}

// processPortsToDevices converts ports to device infos, probing where the mode calls for it.
func (d *detector) processPortsToDevices(ctx context.Context, ports []serialPort,
	opts *detection.Options,
) []detection.DeviceInfo {
	var devices []detection.DeviceInfo

	for i := range ports {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return devices
		default:
		}

		device, shouldInclude := d.processPort(ctx, &ports[i], opts)
		if shouldInclude {
			devices = append(devices, device)
		}
	}

	return devices
}

// processPort handles a single port's detection logic.
func (d *detector) processPort(ctx context.Context, port *serialPort,
	opts *detection.Options,
) (detection.DeviceInfo, bool) {
	confidence, shouldProbe := d.determinePortHandling(port, opts.Mode)

	// Skip port entirely if passive mode and not likely a flashing target.
	if opts.Mode == detection.Passive && confidence == 0 {
		return detection.DeviceInfo{}, false
	}

	device := d.createDeviceInfo(port, confidence)

	if shouldProbe {
		probeSuccess := d.probePortWithTimeout(ctx, port.Path, opts.Mode)
		if probeSuccess {
			device.Confidence = detection.High
		} else if opts.Mode == detection.Safe && !isKnownBridge(port) && !isLikelyHiSilicon(port) {
			// In safe mode, skip unlikely devices that don't respond.
			return detection.DeviceInfo{}, false
		}
	}

	return device, true
}

// determinePortHandling decides confidence level and whether to probe based on mode.
func (*detector) determinePortHandling(port *serialPort, mode detection.Mode) (detection.Confidence, bool) {
	switch mode {
	case detection.Passive:
		if isLikelyHiSilicon(port) {
			return detection.High, false
		}
		if isKnownBridge(port) {
			return detection.Medium, false
		}
		return 0, false // Signal to skip this port

	case detection.Safe:
		if isLikelyHiSilicon(port) {
			return detection.High, false
		}
		if isKnownBridge(port) {
			return detection.Medium, true
		}
		return detection.Low, true

	case detection.Full:
		return detection.Low, true

	default:
		return detection.Low, false
	}
}

// createDeviceInfo builds a DeviceInfo struct from port data.
func (d *detector) createDeviceInfo(port *serialPort, confidence detection.Confidence) detection.DeviceInfo {
	device := detection.DeviceInfo{
		Transport:  "uart",
		Path:       port.Path,
		Name:       port.Name,
		Confidence: confidence,
		Metadata:   make(map[string]string),
	}

	d.addPortMetadata(&device, port)
	return device
}

// addPortMetadata adds available port metadata to the device.
func (*detector) addPortMetadata(device *detection.DeviceInfo, port *serialPort) {
	if port.VIDPID != "" {
		device.Metadata["vidpid"] = port.VIDPID
		device.Metadata["bridge"] = classifyPortBridge(port).String()
	}
	if port.Manufacturer != "" {
		device.Metadata["manufacturer"] = port.Manufacturer
	}
	if port.Product != "" {
		device.Metadata["product"] = port.Product
	}
	if port.SerialNumber != "" {
		device.Metadata["serial"] = port.SerialNumber
	}
}

// probePortWithTimeout performs device probing with a bounded timeout.
func (*detector) probePortWithTimeout(ctx context.Context, path string, mode detection.Mode) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return probeDeviceFn(probeCtx, path, mode)
}

// serialPort represents a serial port with metadata.
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// classifyPortBridge splits VIDPID into its VID/PID halves and classifies
// the bridge chipset behind the port.
func classifyPortBridge(port *serialPort) hisiflash.USBBridge {
	vid, pid, ok := strings.Cut(port.VIDPID, ":")
	if !ok {
		return hisiflash.BridgeUnknown
	}
	return hisiflash.ClassifyUSBBridge(vid, pid)
}

// isKnownBridge reports whether the port sits behind a recognized
// USB-UART bridge chipset (CH340, CP210x, FTDI, or HiSilicon-native).
func isKnownBridge(port *serialPort) bool {
	return classifyPortBridge(port) != hisiflash.BridgeUnknown
}

// isLikelyHiSilicon reports whether the port's descriptors name a
// HiSilicon/WS63-family board directly, independent of VID/PID.
func isLikelyHiSilicon(port *serialPort) bool {
	if classifyPortBridge(port) == hisiflash.BridgeHiSilicon {
		return true
	}

	lowerProduct := strings.ToLower(port.Product)
	lowerManuf := strings.ToLower(port.Manufacturer)

	keywords := []string{"hisilicon", "ws63", "bearpi", "bs2x", "bs25"}
	for _, keyword := range keywords {
		if strings.Contains(lowerProduct, keyword) || strings.Contains(lowerManuf, keyword) {
			return true
		}
	}

	return false
}

// probeDeviceFn is a package-level indirection so tests can stub out the
// real serial probe without opening an actual port.
var probeDeviceFn = probeDevice

// probeDevice attempts a real SEBOOT handshake to confirm a bootloader is
// listening on path.
//
// NO RETRY POLICY: this function intentionally performs only a single
// handshake attempt budget (bounded by the caller's context) per device.
// Retrying failed connections during auto-detection could overwhelm
// devices that are not flashing targets at all, and delay detection of
// the one that is. Connection retries belong to the flashing session
// itself, not to discovery.
func probeDevice(ctx context.Context, path string, mode detection.Mode) bool {
	if mode == detection.Passive {
		// Passive mode doesn't open the port at all.
		return false
	}

	cfg, err := hisiflash.NewChipConfig(hisiflash.ChipWS63)
	if err != nil {
		return false
	}

	port, err := serialport.Open(ctx, path, cfg.HandshakeBaud)
	if err != nil {
		return false
	}
	defer func() { _ = port.Close() }()

	if mode == detection.Safe {
		// Safe mode stops at "the port opened and configured at the
		// handshake baud rate" and never pulses reset/boot pins or
		// exchanges SEBOOT frames.
		return false
	}

	flasher := hisiflash.NewFlasher(port, cfg)
	flasher.SetCancelContext(hisiflash.NewCustomCancelContext(func() bool { return ctx.Err() != nil }))
	return flasher.Connect() == nil
}
