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

package hisiflash

import (
	"fmt"
)

// Flasher drives a SEBOOT flashing session against one connected chip. It
// owns the Port for the duration of the session; Close releases it.
type Flasher struct {
	port   Port
	cfg    ChipConfig
	cancel *CancelContext
	trace  *TraceBuffer

	connected bool
}

// NewFlasher wraps port with the SEBOOT driver for cfg's chip family. The
// caller retains ownership of opening/closing port; Flasher.Close does not
// close it.
func NewFlasher(port Port, cfg ChipConfig) *Flasher {
	return &Flasher{port: port, cfg: cfg, cancel: NewCancelContext(), trace: NewTraceBuffer(string(cfg.Family), 64)}
}

// SetCancelContext installs the CancelContext checked at every blocking
// point of the session. Passing nil reverts to a context that never
// cancels.
func (f *Flasher) SetCancelContext(cancel *CancelContext) {
	if cancel == nil {
		cancel = NewCancelContext()
	}
	f.cancel = cancel
}

// Trace returns the session's trace buffer for diagnostics.
func (f *Flasher) Trace() *TraceBuffer {
	return f.trace
}

// Connect opens a SEBOOT session: applies the bootloader-entry pulse,
// discards stale input, handshakes at the chip's expected handshake baud,
// then (for chip families that switch baud immediately
// rather than after loader-boot) negotiates up to the target baud.
func (f *Flasher) Connect() error {
	if err := f.cancel.Check(); err != nil {
		return err
	}
	if err := f.port.SetBaud(f.cfg.HandshakeBaud); err != nil {
		return newIoError("connect", "", err)
	}
	if err := applyBootloaderPulse(f.port, f.cfg.BootloaderPulse); err != nil {
		return newIoError("connect", "", err)
	}
	if err := f.port.ResetInputBuffer(); err != nil {
		return newIoError("connect", "", err)
	}

	if err := f.handshake(f.cfg.HandshakeBaud); err != nil {
		return err
	}

	if !f.cfg.LateBaudAfterLoaderBoot && f.cfg.TargetBaud != f.cfg.HandshakeBaud {
		if err := f.switchBaud(f.cfg.TargetBaud); err != nil {
			return err
		}
	}

	f.connected = true
	return nil
}

// handshake sends repeated Handshake commands at the current baud until
// the bootloader ACKs or MaxHandshakeAttempts is exhausted.
func (f *Flasher) handshake(targetBaud int) error {
	payload := BuildHandshakePayload(uint32(targetBaud))
	frame := EncodeFrame(CmdHandshake, payload)

	var lastErr error
	for attempt := 0; attempt < MaxHandshakeAttempts; attempt++ {
		if err := f.cancel.Check(); err != nil {
			return err
		}
		f.trace.RecordTX(frame, "handshake")
		if _, err := f.port.Write(frame); err != nil {
			return newIoError("handshake", "", err)
		}

		ack, err := ReadAck(f.port, f.cancel, HandshakeAttemptTimeout)
		if err != nil {
			if IsCancelled(err) {
				return err
			}
			lastErr = err
			sleepRespectingCancel(f.cancel, HandshakeRetryDelay)
			continue
		}
		f.trace.RecordRX(nil, "handshake ack")
		if !ack.Success {
			lastErr = newHandshakeError("handshake", "", fmt.Errorf("device reported error code %d", ack.ErrorCode))
			sleepRespectingCancel(f.cancel, HandshakeRetryDelay)
			continue
		}
		return nil
	}
	if lastErr == nil {
		return newHandshakeError("handshake", "", fmt.Errorf("no response after %d attempts", MaxHandshakeAttempts))
	}
	return newHandshakeError("handshake", "", fmt.Errorf("no ACK after %d attempts: %w", MaxHandshakeAttempts, lastErr))
}

// switchBaud sends SetBaudRate, waits for its ACK at the old baud, then
// switches the local port's baud and re-verifies with a handshake.
func (f *Flasher) switchBaud(target int) error {
	var lastErr error
	for attempt := 0; attempt < MaxBaudSwitchAttempts; attempt++ {
		if err := f.cancel.Check(); err != nil {
			return err
		}
		frame := EncodeFrame(CmdSetBaudRate, BuildSetBaudRatePayload(uint32(target)))
		if _, err := f.port.Write(frame); err != nil {
			return newIoError("switch_baud", "", err)
		}
		ack, err := ReadAck(f.port, f.cancel, HandshakeAttemptTimeout)
		if err != nil || !ack.Success {
			if IsCancelled(err) {
				return err
			}
			lastErr = newHandshakeError("switch_baud", "", fmt.Errorf("device rejected baud switch"))
			if err != nil {
				lastErr = newHandshakeError("switch_baud", "", err)
			}
			sleepRespectingCancel(f.cancel, HandshakeRetryDelay)
			continue
		}

		if err := f.port.SetBaud(target); err != nil {
			return newIoError("switch_baud", "", err)
		}
		sleepRespectingCancel(f.cancel, BaudChangeSettleDelay)

		if err := f.handshake(target); err == nil {
			return nil
		}
		lastErr = newHandshakeError("switch_baud", "", fmt.Errorf("no response at new baud %d", target))
	}
	return lastErr
}

// Reset instructs the chip to reset, typically into the freshly flashed
// application. It waits for the Reset command's ACK; after that the chip
// reboots and drops off the bus, and nothing further is read.
func (f *Flasher) Reset() error {
	if err := f.cancel.Check(); err != nil {
		return err
	}
	frame := EncodeFrame(CmdReset, BuildResetPayload())
	if _, err := f.port.Write(frame); err != nil {
		return newIoError("reset", "", err)
	}
	ack, err := ReadAck(f.port, f.cancel, DownloadAckTimeout)
	if err != nil {
		return err
	}
	if !ack.Success {
		return newProtocolError("reset", "", fmt.Errorf("device rejected reset, error code 0x%02X", ack.ErrorCode))
	}
	return nil
}

// Close releases driver-side session state. The underlying Port is not
// closed; the caller owns it.
func (f *Flasher) Close() error {
	f.connected = false
	return nil
}
