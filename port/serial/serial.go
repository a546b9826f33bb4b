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

// Package serial implements the hisiflash.Port interface over
// go.bug.st/serial, the USB-UART backend every chip family in this module
// flashes through.
package serial

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hisiflash-go/hisiflash"
	"go.bug.st/serial"
)

// windowsPostWriteDelay mirrors go.bug.st/serial driver timing quirks on
// Windows, where a write can return before the OS has actually flushed
// the buffer to the device.
func windowsPostWriteDelay() {
	if runtime.GOOS == "windows" {
		time.Sleep(15 * time.Millisecond)
	}
}

// Port wraps a go.bug.st/serial.Port as a hisiflash.Port, serializing
// access with a mutex the way every other Port user in this module
// assumes (single Flasher owns the Port for the session, but Close may
// race a concurrent Read/Write during shutdown).
type Port struct {
	port serial.Port
	name string
	mu   sync.Mutex
}

var _ hisiflash.Port = (*Port)(nil)

// Open opens name at the given initial baud rate, retrying transient
// open failures (a freshly plugged USB-UART bridge can take a moment to
// register with the OS) per hisiflash.DefaultFlashRetryConfig.
func Open(ctx context.Context, name string, initialBaud int) (*Port, error) {
	var p serial.Port
	err := hisiflash.RetryWithConfig(ctx, hisiflash.DefaultFlashRetryConfig(), func() error {
		var openErr error
		p, openErr = serial.Open(name, &serial.Mode{
			BaudRate: initialBaud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if openErr != nil {
			return classifyOpenError(name, openErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := p.SetReadTimeout(hisiflash.DefaultReadTimeout); err != nil {
		_ = p.Close()
		return nil, hisiflash.NewIoError("open", name, err)
	}

	return &Port{port: p, name: name}, nil
}

// classifyOpenError maps go.bug.st/serial's open errors onto this
// module's error taxonomy so DefaultFlashRetryConfig's retry loop can
// tell a transient failure (port busy or access denied, or any other I/O
// failure) from a permanent one (no such device). A device that has not
// enumerated yet reports "no such file" and so counts as permanent.
func classifyOpenError(name string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file") || strings.Contains(msg, "cannot find"):
		return hisiflash.NewNotFoundError("open", name)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "access is denied") || strings.Contains(msg, "permission denied"):
		return hisiflash.NewBusyError("open", name)
	default:
		return hisiflash.NewIoError("open", name, err)
	}
}

func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.port.Read(buf)
	if err != nil {
		return n, classifyIOError("read", p.name, err)
	}
	return n, nil
}

func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.port.Write(data)
	if err != nil {
		return n, classifyIOError("write", p.name, err)
	}
	if n != len(data) {
		return n, hisiflash.NewIoError("write", p.name, fmt.Errorf("short write: %d of %d bytes", n, len(data)))
	}
	windowsPostWriteDelay()
	return n, nil
}

func (p *Port) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return hisiflash.NewIoError("set_read_timeout", p.name, err)
	}
	return nil
}

func (p *Port) SetBaud(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.SetMode(&serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}); err != nil {
		return hisiflash.NewIoError("set_baud", p.name, err)
	}
	return nil
}

func (p *Port) SetDTR(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.SetDTR(level); err != nil {
		return hisiflash.NewIoError("set_dtr", p.name, err)
	}
	return nil
}

func (p *Port) SetRTS(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.SetRTS(level); err != nil {
		return hisiflash.NewIoError("set_rts", p.name, err)
	}
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.ResetInputBuffer(); err != nil {
		return hisiflash.NewIoError("reset_input_buffer", p.name, err)
	}
	return nil
}

func (p *Port) ResetOutputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.ResetOutputBuffer(); err != nil {
		return hisiflash.NewIoError("reset_output_buffer", p.name, err)
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.port.Close(); err != nil {
		return hisiflash.NewIoError("close", p.name, err)
	}
	return nil
}

// classifyIOError distinguishes a device-gone condition (USB bridge
// unplugged mid-session) from an ordinary I/O error, since the former is
// never worth retrying regardless of the Io kind's default
// retryability.
func classifyIOError(op, name string, err error) error {
	if hisiflash.IsDeviceGoneError(err) {
		return hisiflash.NewNotFoundError(op, name)
	}
	return hisiflash.NewIoError(op, name, err)
}
