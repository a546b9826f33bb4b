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

// ackFrameLen is the ACK frame's fixed size: magic(4) + length(2) + type(1)
// + ~type(1) + result(1) + error_code(1) + crc(2).
const ackFrameLen = 12

// ackResultSuccess and ackResultFail are the values carried in an ACK
// frame's result byte.
const (
	ackResultSuccess byte = 0x5A
	ackResultFail    byte = 0x00
)

// Ack is a decoded SEBOOT ACK frame.
type Ack struct {
	Success   bool
	ErrorCode byte
}

// decodeAck validates and decodes a fixed-size ACK frame. Use DecodeFrame
// for frames that might not be an ACK; decodeAck assumes the caller has
// already determined the type byte is CmdAck.
func decodeAck(frame []byte) (Ack, error) {
	if len(frame) != ackFrameLen {
		return Ack{}, newProtocolError("decode_ack", "", fmt.Errorf("ack frame must be %d bytes, got %d", ackFrameLen, len(frame)))
	}
	if binary.LittleEndian.Uint32(frame[0:4]) != sebootMagic {
		return Ack{}, newProtocolError("decode_ack", "", fmt.Errorf("bad ack magic"))
	}
	if frame[6] != byte(CmdAck) {
		return Ack{}, newProtocolError("decode_ack", "", fmt.Errorf("not an ack frame: type 0x%02X", frame[6]))
	}
	if frame[7] != frame[6]^0xFF {
		return Ack{}, newProtocolError("decode_ack", "", fmt.Errorf("ack type complement mismatch"))
	}

	wantCRC := binary.LittleEndian.Uint16(frame[10:12])
	gotCRC := CRC16XModem(frame[0:10])
	if gotCRC != wantCRC {
		return Ack{}, newCrcMismatchError("decode_ack", "")
	}

	result := frame[8]
	errorCode := frame[9]
	if result != ackResultSuccess && result != ackResultFail {
		return Ack{}, newProtocolError("decode_ack", "", fmt.Errorf("unrecognized ack result byte 0x%02X", result))
	}

	return Ack{Success: result == ackResultSuccess, ErrorCode: errorCode}, nil
}

// ReadAck scans a Port for the next SEBOOT ACK frame, discarding any bytes
// that precede a valid magic. A candidate whose declared length is outside
// [AckScanMinFrameLen, AckScanMaxFrameLen], or whose CRC does not match, is
// skipped and scanning continues. It returns once a frame is fully read and
// validated, or on timeout, cancellation, an I/O error, or a candidate whose
// inverted-type byte is not the complement of its type (ProtocolError).
// It never reads past the end of the ACK frame, so bytes the device sends
// right after the ACK stay on the port.
func ReadAck(port Port, cancel *CancelContext, timeout time.Duration) (Ack, error) {
	if cancel == nil {
		cancel = NewCancelContext()
	}

	deadline := time.Now().Add(timeout)
	window := make([]byte, 0, ackFrameLen)
	readBuf := bufpool.Get(64)
	defer bufpool.Put(readBuf)

	for {
		if err := cancel.Check(); err != nil {
			return Ack{}, err
		}
		if time.Now().After(deadline) {
			return Ack{}, newTimeoutError("read_ack", "")
		}

		// window always starts at or before the next possible frame start,
		// so reading up to a full frame past its start never consumes
		// bytes that follow the ACK (such as the YMODEM 'C').
		n, err := port.Read(readBuf[:ackFrameLen-len(window)])
		if err != nil {
			return Ack{}, newIoError("read_ack", "", err)
		}
		if n == 0 {
			continue
		}
		window = append(window, readBuf[:n]...)

		for {
			idx := findMagic(window)
			if idx < 0 {
				if len(window) > 3 {
					window = window[len(window)-3:]
				}
				break
			}
			window = window[idx:]
			if len(window) >= 6 {
				if l := binary.LittleEndian.Uint16(window[4:6]); l < AckScanMinFrameLen || l > AckScanMaxFrameLen {
					window = window[1:]
					continue
				}
			}
			if len(window) < ackFrameLen {
				break
			}
			if window[7] != window[6]^0xFF {
				return Ack{}, newProtocolError("read_ack", "", fmt.Errorf("frame type complement mismatch"))
			}
			ack, decodeErr := decodeAck(window[:ackFrameLen])
			if decodeErr == nil {
				return ack, nil
			}
			// Resync past a false-positive magic match rather than failing
			// the whole read outright.
			window = window[4:]
		}
	}
}

// findMagic returns the byte offset of the next occurrence of the SEBOOT
// magic (little-endian) within buf, or -1.
func findMagic(buf []byte) int {
	if len(buf) < 4 {
		return -1
	}
	for i := 0; i <= len(buf)-4; i++ {
		if buf[i] == 0xEF && buf[i+1] == 0xBE && buf[i+2] == 0xAD && buf[i+3] == 0xDE {
			return i
		}
	}
	return -1
}
