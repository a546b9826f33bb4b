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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame_RoundTrip(t *testing.T) {
	payload := BuildHandshakePayload(115200)
	frame := EncodeFrame(CmdHandshake, payload)

	cmd, decodedPayload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, CmdHandshake, cmd)
	assert.Equal(t, payload, decodedPayload)
}

func TestEncodeFrame_EmptyPayload(t *testing.T) {
	frame := EncodeFrame(CmdReset, nil)
	cmd, payload, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, CmdReset, cmd)
	assert.Empty(t, payload)
}

func TestDecodeFrame_RejectsBadMagic(t *testing.T) {
	frame := EncodeFrame(CmdHandshake, BuildHandshakePayload(115200))
	frame[0] ^= 0xFF

	_, _, err := DecodeFrame(frame)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolError, kind)
}

func TestDecodeFrame_RejectsBadLength(t *testing.T) {
	frame := EncodeFrame(CmdHandshake, BuildHandshakePayload(115200))
	frame[4] ^= 0xFF

	_, _, err := DecodeFrame(frame)
	require.Error(t, err)
}

func TestDecodeFrame_RejectsBadTypeComplement(t *testing.T) {
	frame := EncodeFrame(CmdHandshake, BuildHandshakePayload(115200))
	frame[7] = 0x00

	_, _, err := DecodeFrame(frame)
	require.Error(t, err)
}

func TestDecodeFrame_RejectsCrcMismatch(t *testing.T) {
	frame := EncodeFrame(CmdHandshake, BuildHandshakePayload(115200))
	frame[len(frame)-1] ^= 0xFF

	_, _, err := DecodeFrame(frame)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCrcMismatch, kind)
}

func TestDecodeFrame_RejectsTooShort(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0x01, 0x02, 0x03})
	require.Error(t, err)
}

func TestEncodeFrame_HandshakeExactBytes(t *testing.T) {
	frame := EncodeFrame(CmdHandshake, BuildHandshakePayload(115200))
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0x12, 0x00, 0xF0, 0x0F, 0x00, 0xC2, 0x01, 0x00, 0x08, 0x01, 0x00, 0x00}
	require.Len(t, frame, len(want)+2)
	assert.Equal(t, want, frame[:len(want)])
	crc := CRC16XModem(want)
	assert.Equal(t, crc, leUint16(frame[len(want):]))
}

func leUint16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func TestBuildDownloadPayload_Layout(t *testing.T) {
	payload := BuildDownloadPayload(0x1000, 0x2000, 0x3000)
	require.Len(t, payload, 14)
	assert.Equal(t, []byte{0x00, 0x10, 0x00, 0x00}, payload[0:4])
	assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x00}, payload[4:8])
	assert.Equal(t, []byte{0x00, 0x30, 0x00, 0x00}, payload[8:12])
	assert.Equal(t, []byte{0x00, 0xFF}, payload[12:14])
}

func TestBuildHandshakePayload_Layout(t *testing.T) {
	payload := BuildHandshakePayload(921600)
	require.Len(t, payload, 8)
	assert.Equal(t, uint32(0x00000108), leUint32(payload[4:8]))
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestCommandType_String(t *testing.T) {
	assert.Equal(t, "handshake", CmdHandshake.String())
	assert.Equal(t, "download", CmdDownload.String())
	assert.Contains(t, CommandType(0xAB).String(), "unknown")
}
