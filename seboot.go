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
)

// sebootMagic is the little-endian frame magic that opens every SEBOOT
// command frame.
const sebootMagic uint32 = 0xDEADBEEF

// sebootHeaderLen is magic(4) + length(2) + type(1) + type-complement(1).
const sebootHeaderLen = 8

// CommandType identifies a SEBOOT command frame's payload shape.
type CommandType byte

const (
	// CmdHandshake requests the bootloader announce itself and, per
	// payload, switch to a target baud rate.
	CmdHandshake CommandType = 0xF0
	// CmdSetBaudRate switches the link baud rate outside of a handshake.
	CmdSetBaudRate CommandType = 0x5A
	// CmdDownload announces an incoming YMODEM-1K transfer for one image.
	CmdDownload CommandType = 0xD2
	// CmdReset instructs the chip to reset, typically into the flashed
	// application.
	CmdReset CommandType = 0x87
	// CmdDownloadNV announces an NV (non-volatile parameter) image transfer.
	CmdDownloadNV CommandType = 0x4B
	// CmdReadOtpEfuse reads OTP/eFuse contents. Programming eFuse is out of
	// scope; reading it back is still a useful diagnostic.
	CmdReadOtpEfuse CommandType = 0xA5
	// CmdFlashLock locks or unlocks flash write protection.
	CmdFlashLock CommandType = 0x96
	// CmdSwitchDfu switches the chip into USB DFU mode.
	CmdSwitchDfu CommandType = 0x1E
	// CmdAck is the frame type of the fixed-size ACK response, never sent
	// as a command.
	CmdAck CommandType = 0xE1
	// CmdDownloadOtpEfuse announces an OTP/eFuse image transfer.
	CmdDownloadOtpEfuse CommandType = 0xC3
	// CmdUploadData requests the bootloader send data back to the host.
	CmdUploadData CommandType = 0xB4
	// CmdDownloadFactoryBin announces a factory-test binary transfer.
	CmdDownloadFactoryBin CommandType = 0x78
	// CmdDownloadVersion requests the bootloader's version string.
	CmdDownloadVersion CommandType = 0x69
)

func (c CommandType) String() string {
	switch c {
	case CmdHandshake:
		return "handshake"
	case CmdSetBaudRate:
		return "set_baud_rate"
	case CmdDownload:
		return "download"
	case CmdReset:
		return "reset"
	case CmdDownloadNV:
		return "download_nv"
	case CmdReadOtpEfuse:
		return "read_otp_efuse"
	case CmdFlashLock:
		return "flash_lock"
	case CmdSwitchDfu:
		return "switch_dfu"
	case CmdAck:
		return "ack"
	case CmdDownloadOtpEfuse:
		return "download_otp_efuse"
	case CmdUploadData:
		return "upload_data"
	case CmdDownloadFactoryBin:
		return "download_factory_bin"
	case CmdDownloadVersion:
		return "download_version"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(c))
	}
}

// handshakeFixedTail is appended after the target baud rate in a Handshake
// payload. Its meaning isn't documented by HiSilicon; it is carried
// verbatim because the bootloader rejects a handshake without it.
const handshakeFixedTail uint32 = 0x00000108

// downloadTrailer follows the three length/address fields of a Download
// payload.
var downloadTrailer = [2]byte{0x00, 0xFF}

// EncodeFrame builds a complete SEBOOT command frame: magic, length,
// type, ~type, payload, CRC16-XMODEM over everything preceding it (magic
// through payload inclusive).
func EncodeFrame(cmd CommandType, payload []byte) []byte {
	frameLen := sebootHeaderLen + len(payload) + 2
	buf := make([]byte, frameLen)

	binary.LittleEndian.PutUint32(buf[0:4], sebootMagic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(frameLen))
	buf[6] = byte(cmd)
	buf[7] = byte(cmd) ^ 0xFF
	copy(buf[8:], payload)

	crc := CRC16XModem(buf[0 : 8+len(payload)])
	binary.LittleEndian.PutUint16(buf[8+len(payload):], crc)
	return buf
}

// DecodeFrame parses and validates a complete SEBOOT frame (magic, length,
// type complement, CRC). It returns the command type and payload.
func DecodeFrame(frame []byte) (CommandType, []byte, error) {
	if len(frame) < sebootHeaderLen+2 {
		return 0, nil, newProtocolError("decode_frame", "", fmt.Errorf("frame too short: %d bytes", len(frame)))
	}
	magic := binary.LittleEndian.Uint32(frame[0:4])
	if magic != sebootMagic {
		return 0, nil, newProtocolError("decode_frame", "", fmt.Errorf("bad magic: 0x%08X", magic))
	}
	declaredLen := int(binary.LittleEndian.Uint16(frame[4:6]))
	if declaredLen != len(frame) {
		return 0, nil, newProtocolError("decode_frame", "", fmt.Errorf("length mismatch: declared %d, got %d", declaredLen, len(frame)))
	}
	cmd := frame[6]
	if frame[7] != cmd^0xFF {
		return 0, nil, newProtocolError("decode_frame", "", fmt.Errorf("type complement mismatch"))
	}

	payload := frame[8 : len(frame)-2]
	wantCRC := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	gotCRC := CRC16XModem(frame[0 : len(frame)-2])
	if gotCRC != wantCRC {
		return 0, nil, newCrcMismatchError("decode_frame", "")
	}

	return CommandType(cmd), payload, nil
}

// BuildHandshakePayload encodes a Handshake command's payload: target baud
// rate followed by the fixed tail value the bootloader expects.
func BuildHandshakePayload(targetBaud uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], targetBaud)
	binary.LittleEndian.PutUint32(buf[4:8], handshakeFixedTail)
	return buf
}

// BuildSetBaudRatePayload encodes a SetBaudRate command's payload.
func BuildSetBaudRatePayload(baud uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, baud)
	return buf
}

// BuildDownloadPayload encodes a Download command's payload: destination
// flash address, image length, erase size, and the fixed trailer.
func BuildDownloadPayload(flashAddr, length, eraseSize uint32) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf[0:4], flashAddr)
	binary.LittleEndian.PutUint32(buf[4:8], length)
	binary.LittleEndian.PutUint32(buf[8:12], eraseSize)
	copy(buf[12:14], downloadTrailer[:])
	return buf
}

// BuildResetPayload encodes a Reset command's two-byte zero payload.
func BuildResetPayload() []byte {
	return []byte{0x00, 0x00}
}
