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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hisiflash-go/hisiflash/internal/bufpool"
)

const (
	ymodemSOH  byte = 0x01 // 128-byte block marker (block-0 header and end marker)
	ymodemSTX  byte = 0x02 // 1024-byte block marker
	ymodemEOT  byte = 0x04
	ymodemACK  byte = 0x06
	ymodemNAK  byte = 0x15
	ymodemCAN  byte = 0x18
	ymodemC    byte = 0x43 // 'C', requests CRC-16 mode
	ymodemPad  byte = 0x1A
	ymodemData      = 1024
)

// ymodemSender drives a YMODEM-1K transfer over a Port. WS63's bootloader
// only sends the initial 'C' once, at the very start of the transfer: it
// does not re-issue it after the block-0 header is ACKed, and it does not
// wait for one before the final zeroed end-of-transfer block.
type ymodemSender struct {
	port     Port
	cancel   *CancelContext
	progress ProgressFunc
}

func newYmodemSender(port Port, cancel *CancelContext, progress ProgressFunc) *ymodemSender {
	if cancel == nil {
		cancel = NewCancelContext()
	}
	return &ymodemSender{port: port, cancel: cancel, progress: progress}
}

// Send transmits data as a single-file YMODEM-1K stream named filename.
// Progress is reported with len(data) as the total.
func (y *ymodemSender) Send(filename string, data []byte) error {
	if err := y.waitForC(); err != nil {
		return y.abortOnCancel(err)
	}

	header := buildBlockZeroHeader(filename, int64(len(data)))
	if err := y.sendBlockWithRetry(0, header); err != nil {
		return y.abortOnCancel(err)
	}

	var sent int64
	seq := byte(1)
	for offset := 0; offset < len(data); offset += ymodemData {
		end := offset + ymodemData
		if end > len(data) {
			end = len(data)
		}
		block := bufpool.Get(ymodemData)
		copy(block, data[offset:end])
		for i := end - offset; i < ymodemData; i++ {
			block[i] = ymodemPad
		}

		err := y.sendBlockWithRetry(seq, block)
		bufpool.Put(block)
		if err != nil {
			return y.abortOnCancel(err)
		}
		sent += int64(end - offset)
		if y.progress != nil {
			y.progress(sent, int64(len(data)))
		}
		seq++
	}

	if err := y.sendEOT(); err != nil {
		return y.abortOnCancel(err)
	}

	// Zeroed block-0 end marker; no further 'C' wait.
	endMarker := make([]byte, 128)
	if err := y.sendBlockWithRetry(0, endMarker); err != nil {
		return y.abortOnCancel(err)
	}
	return nil
}

// abortOnCancel emits the courtesy CAN CAN sequence when err is a
// cancellation, best-effort (a write error here doesn't change the
// outcome: the transfer is already aborting). It returns err unchanged.
func (y *ymodemSender) abortOnCancel(err error) error {
	if IsCancelled(err) {
		_ = y.Cancel()
	}
	return err
}

func (y *ymodemSender) waitForC() error {
	buf := make([]byte, 1)
	for attempt := 0; attempt < YmodemCWaitRetries; attempt++ {
		if err := y.cancel.Check(); err != nil {
			return err
		}
		if err := y.port.SetReadTimeout(YmodemBlockAckTimeout); err != nil {
			return newIoError("ymodem_wait_c", "", err)
		}
		n, err := y.port.Read(buf)
		if err != nil {
			return newIoError("ymodem_wait_c", "", err)
		}
		if n == 1 && buf[0] == ymodemC {
			return nil
		}
	}
	return newTimeoutError("ymodem_wait_c", "")
}

func (y *ymodemSender) sendBlockWithRetry(seq byte, payload []byte) error {
	frame := encodeYmodemBlock(seq, payload)
	if len(payload) == ymodemData {
		defer bufpool.Put(frame)
	}
	var lastErr error
	for attempt := 0; attempt < YmodemBlockRetries; attempt++ {
		if err := y.cancel.Check(); err != nil {
			return err
		}
		if _, err := y.port.Write(frame); err != nil {
			return newIoError("ymodem_send_block", "", err)
		}

		resp, err := y.readResponseByte()
		if err != nil {
			lastErr = err
			continue
		}
		switch resp {
		case ymodemACK:
			return nil
		case ymodemNAK:
			lastErr = newProtocolError("ymodem_send_block", "", fmt.Errorf("receiver NAKed block %d", seq))
			continue
		case ymodemCAN:
			return newCancelledError("ymodem_send_block")
		default:
			lastErr = newProtocolError("ymodem_send_block", "", fmt.Errorf("unexpected response byte 0x%02X", resp))
		}
	}
	if lastErr == nil {
		lastErr = newTimeoutError("ymodem_send_block", "")
	}
	return lastErr
}

func (y *ymodemSender) sendEOT() error {
	var lastErr error
	for attempt := 0; attempt < YmodemBlockRetries; attempt++ {
		if err := y.cancel.Check(); err != nil {
			return err
		}
		if _, err := y.port.Write([]byte{ymodemEOT}); err != nil {
			return newIoError("ymodem_eot", "", err)
		}
		resp, err := y.readResponseByte()
		if err != nil {
			lastErr = err
			continue
		}
		switch resp {
		case ymodemNAK:
			// First EOT is expected to be NAKed once, per YMODEM; retry.
			if _, err := y.port.Write([]byte{ymodemEOT}); err != nil {
				return newIoError("ymodem_eot", "", err)
			}
			resp2, err2 := y.readResponseByte()
			if err2 != nil {
				lastErr = err2
				continue
			}
			if resp2 == ymodemACK {
				return nil
			}
			lastErr = newProtocolError("ymodem_eot", "", fmt.Errorf("unexpected second EOT response 0x%02X", resp2))
		case ymodemACK:
			return nil
		case ymodemCAN:
			return newCancelledError("ymodem_eot")
		default:
			lastErr = newProtocolError("ymodem_eot", "", fmt.Errorf("unexpected EOT response 0x%02X", resp))
		}
	}
	return lastErr
}

func (y *ymodemSender) readResponseByte() (byte, error) {
	buf := make([]byte, 1)
	if err := y.port.SetReadTimeout(YmodemBlockAckTimeout); err != nil {
		return 0, newIoError("ymodem_read_response", "", err)
	}
	deadline := time.Now().Add(YmodemBlockAckTimeout)
	for time.Now().Before(deadline) {
		if err := y.cancel.Check(); err != nil {
			return 0, err
		}
		n, err := y.port.Read(buf)
		if err != nil {
			return 0, newIoError("ymodem_read_response", "", err)
		}
		if n == 1 {
			return buf[0], nil
		}
	}
	return 0, newTimeoutError("ymodem_read_response", "")
}

// Cancel sends the two-byte CAN sequence used to abort a transfer
// mid-stream, e.g. on CancelContext cancellation.
func (y *ymodemSender) Cancel() error {
	_, err := y.port.Write([]byte{ymodemCAN, ymodemCAN})
	if err != nil {
		return newIoError("ymodem_cancel", "", err)
	}
	return nil
}

// encodeYmodemBlock wraps payload (must be 128 or 1024 bytes) in its STX/
// SOH header, sequence byte and complement, and CRC16-XMODEM trailer.
func encodeYmodemBlock(seq byte, payload []byte) []byte {
	marker := ymodemSTX
	if len(payload) == 128 {
		marker = ymodemSOH
	}

	frameLen := 3 + len(payload) + 2
	var frame []byte
	if len(payload) == ymodemData {
		frame = bufpool.Get(frameLen)
	} else {
		frame = make([]byte, frameLen)
	}
	frame[0] = marker
	frame[1] = seq
	frame[2] = ^seq
	copy(frame[3:], payload)

	crc := CRC16XModem(payload)
	binary.BigEndian.PutUint16(frame[3+len(payload):], crc)
	return frame
}

// buildBlockZeroHeader builds YMODEM's block-0 header: the file name, a
// NUL, the decimal length and a trailing space, zero-padded to 128 bytes.
func buildBlockZeroHeader(filename string, length int64) []byte {
	header := make([]byte, 128)
	copy(header, filename)
	nul := len(filename)
	if nul < len(header) {
		header[nul] = 0
	}
	lengthStr := fmt.Sprintf("%d ", length)
	copy(header[nul+1:], lengthStr)
	return header
}
