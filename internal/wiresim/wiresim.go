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

// Package wiresim simulates a WS63 SEBOOT bootloader at the wire protocol
// level: it implements hisiflash.Port directly, parses incoming SEBOOT
// command frames and YMODEM-1K blocks, and produces the same byte
// sequences a real chip would put on the wire. It exists so Flasher-level
// tests can exercise a full Connect/FlashFWPKG session without an actual
// serial port.
package wiresim

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hisiflash-go/hisiflash"
	"github.com/hisiflash-go/hisiflash/internal/syncutil"
)

// receiveState tracks what the simulated bootloader expects next on the wire.
type receiveState int

const (
	stateAwaitingCommand receiveState = iota
	stateAwaitingYmodemC
	stateAwaitingYmodemBlock
)

const (
	ymodemSOH byte = 0x01
	ymodemSTX byte = 0x02
	ymodemEOT byte = 0x04
	ymodemACK byte = 0x06
	ymodemNAK byte = 0x15
	ymodemC   byte = 0x43
)

// Faults lets a test configure how the device misbehaves on its next
// command or block.
type Faults struct {
	DropNextAck      bool // swallow the next ACK instead of sending it
	RejectHandshake  bool // ACK handshakes with result=fail
	CorruptNextAckCRC bool // send an ACK whose CRC field is wrong
	NakNextBlock     bool // NAK the next YMODEM data block once, then ACK retries
}

// Device simulates a WS63 bootloader over a virtual wire. It implements
// hisiflash.Port so a Flasher can drive it directly in tests.
type Device struct {
	mu syncutil.Mutex

	rx bytes.Buffer
	tx bytes.Buffer

	baud        int
	readTimeout time.Duration
	dtr, rts    bool
	closed      bool

	state           receiveState
	cSent           bool
	eotSeen         bool
	expectedSeq     byte
	currentImage    bytes.Buffer
	imageLen        int
	receivedImages  [][]byte
	pendingDownload bool

	faults Faults
}

// New creates a device ready to receive a handshake.
func New() *Device {
	return &Device{state: stateAwaitingCommand}
}

// SetFaults replaces the device's fault-injection configuration. Each
// flag is consumed (reset to false) the first time it fires.
func (d *Device) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// ReceivedImages returns the complete payloads of every YMODEM transfer
// the device has accepted so far, in the order they were received.
func (d *Device) ReceivedImages() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.receivedImages))
	copy(out, d.receivedImages)
	return out
}

// Baud returns the baud rate most recently set via SetBaud.
func (d *Device) Baud() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baud
}

func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx.Len() == 0 {
		return 0, nil
	}
	return d.tx.Read(buf)
}

func (d *Device) Write(data []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rx.Write(data)
	d.process()
	return len(data), nil
}

func (d *Device) SetReadTimeout(timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readTimeout = timeout
	return nil
}

func (d *Device) SetBaud(baud int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baud = baud
	return nil
}

func (d *Device) SetDTR(level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dtr = level
	return nil
}

func (d *Device) SetRTS(level bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rts = level
	return nil
}

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rx.Reset()
	return nil
}

func (d *Device) ResetOutputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tx.Reset()
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var _ hisiflash.Port = (*Device)(nil)

// process drains as much of rx as it can interpret given the current
// state, queuing responses into tx.
func (d *Device) process() {
	for {
		switch d.state {
		case stateAwaitingCommand:
			if !d.tryConsumeCommand() {
				return
			}
		case stateAwaitingYmodemC:
			if !d.cSent {
				d.tx.WriteByte(ymodemC)
				d.cSent = true
			}
			if !d.tryConsumeYmodemBlock() {
				return
			}
		case stateAwaitingYmodemBlock:
			if !d.tryConsumeYmodemBlock() {
				return
			}
		}
	}
}

// sebootFrameLen returns the total length of a well-formed SEBOOT frame
// starting at the front of buf, or 0 if buf doesn't yet hold one.
func sebootFrameLen(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != 0xDEADBEEF {
		return -1 // desynced; caller should drop a byte and retry
	}
	length := int(binary.LittleEndian.Uint16(buf[4:6]))
	total := length // length field counts the whole frame, magic through CRC
	if total < 10 {
		return -1
	}
	if len(buf) < total {
		return 0
	}
	return total
}

func (d *Device) tryConsumeCommand() bool {
	buf := d.rx.Bytes()
	n := sebootFrameLen(buf)
	switch {
	case n == 0:
		return false
	case n < 0:
		d.rx.Next(1)
		return true
	}

	frame := make([]byte, n)
	copy(frame, buf[:n])
	d.rx.Next(n)

	cmdType := hisiflash.CommandType(frame[6])
	d.respondToCommand(cmdType, frame)
	return true
}

func (d *Device) respondToCommand(cmdType hisiflash.CommandType, frame []byte) {
	switch cmdType {
	case hisiflash.CmdHandshake:
		if d.faults.RejectHandshake {
			d.faults.RejectHandshake = false
			d.writeAck(false, 0x01)
			return
		}
		d.writeAck(true, 0)
	case hisiflash.CmdSetBaudRate:
		d.writeAck(true, 0)
	case hisiflash.CmdDownload:
		d.pendingDownload = true
		d.currentImage.Reset()
		d.imageLen = -1
		if len(frame) >= 16 {
			d.imageLen = int(binary.LittleEndian.Uint32(frame[12:16]))
		}
		d.expectedSeq = 0
		d.cSent = false
		d.state = stateAwaitingYmodemC
		d.writeAck(true, 0)
	case hisiflash.CmdReset:
		d.writeAck(true, 0)
	default:
		d.writeAck(false, 0xFF)
	}
	_ = frame
}

// writeAck appends a 12-byte SEBOOT ACK frame to tx, honoring any
// pending fault injection.
func (d *Device) writeAck(success bool, errorCode byte) {
	if d.faults.DropNextAck {
		d.faults.DropNextAck = false
		return
	}

	frame := make([]byte, 12)
	binary.LittleEndian.PutUint32(frame[0:4], 0xDEADBEEF)
	binary.LittleEndian.PutUint16(frame[4:6], 12)
	frame[6] = byte(hisiflash.CmdAck)
	frame[7] = frame[6] ^ 0xFF
	if success {
		frame[8] = 0x5A
	} else {
		frame[8] = 0x00
	}
	frame[9] = errorCode
	crc := hisiflash.CRC16XModem(frame[0:10])
	if d.faults.CorruptNextAckCRC {
		d.faults.CorruptNextAckCRC = false
		crc ^= 0xFFFF
	}
	binary.LittleEndian.PutUint16(frame[10:12], crc)
	d.tx.Write(frame)
}

// tryConsumeYmodemBlock consumes one SOH/STX block, an EOT, or the
// zeroed end-marker from rx, responding with ACK/NAK as appropriate.
func (d *Device) tryConsumeYmodemBlock() bool {
	buf := d.rx.Bytes()
	if len(buf) == 0 {
		return false
	}

	switch buf[0] {
	case ymodemEOT:
		d.rx.Next(1)
		if !d.eotSeen {
			d.eotSeen = true
			d.tx.WriteByte(ymodemNAK)
		} else {
			d.eotSeen = false
			d.tx.WriteByte(ymodemACK)
		}
		return true
	case ymodemSOH, ymodemSTX:
		return d.tryConsumeDataBlock(buf)
	default:
		// Unrecognized leading byte on the YMODEM wire; drop it.
		d.rx.Next(1)
		return true
	}
}

func (d *Device) tryConsumeDataBlock(buf []byte) bool {
	dataLen := 1024
	if buf[0] == ymodemSOH {
		dataLen = 128
	}
	total := 3 + dataLen + 2
	if len(buf) < total {
		return false
	}

	block := make([]byte, total)
	copy(block, buf[:total])
	d.rx.Next(total)

	seq := block[1]
	payload := block[3 : 3+dataLen]

	if seq == 0 {
		// Block-0 header or the zeroed end marker; both are ACKed. The end
		// marker also closes the transfer: the image is trimmed to the
		// length the Download command announced, and the flash commit is
		// confirmed with a SEBOOT ACK.
		d.state = stateAwaitingYmodemBlock
		d.tx.WriteByte(ymodemACK)
		if isZeroed(payload) && d.pendingDownload {
			img := d.currentImage.Bytes()
			if d.imageLen >= 0 && d.imageLen < len(img) {
				img = img[:d.imageLen]
			}
			d.receivedImages = append(d.receivedImages, append([]byte{}, img...))
			d.pendingDownload = false
			d.state = stateAwaitingCommand
			d.writeAck(true, 0)
		}
		return true
	}

	if d.faults.NakNextBlock {
		d.faults.NakNextBlock = false
		d.tx.WriteByte(ymodemNAK)
		return true
	}

	d.currentImage.Write(payload)
	d.expectedSeq = seq + 1
	d.tx.WriteByte(ymodemACK)
	return true
}

func isZeroed(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// String reports a short human-readable summary, useful in test failure
// messages.
func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("wiresim.Device{baud=%d images=%d}", d.baud, len(d.receivedImages))
}
