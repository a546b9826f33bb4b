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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildAckFrame(success bool, errorCode byte) []byte {
	frame := make([]byte, ackFrameLen)
	binary.LittleEndian.PutUint32(frame[0:4], sebootMagic)
	binary.LittleEndian.PutUint16(frame[4:6], ackFrameLen)
	frame[6] = byte(CmdAck)
	frame[7] = byte(CmdAck) ^ 0xFF
	if success {
		frame[8] = ackResultSuccess
	} else {
		frame[8] = ackResultFail
	}
	frame[9] = errorCode
	crc := CRC16XModem(frame[0:10])
	binary.LittleEndian.PutUint16(frame[10:12], crc)
	return frame
}

func TestDecodeAck_Success(t *testing.T) {
	ack, err := decodeAck(buildAckFrame(true, 0))
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestDecodeAck_Failure(t *testing.T) {
	ack, err := decodeAck(buildAckFrame(false, 0x07))
	require.NoError(t, err)
	assert.False(t, ack.Success)
	assert.Equal(t, byte(0x07), ack.ErrorCode)
}

func TestDecodeAck_RejectsWrongLength(t *testing.T) {
	_, err := decodeAck(make([]byte, 11))
	require.Error(t, err)
}

func TestDecodeAck_RejectsCrcMismatch(t *testing.T) {
	frame := buildAckFrame(true, 0)
	frame[10] ^= 0xFF
	_, err := decodeAck(frame)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCrcMismatch, kind)
}

func TestReadAck_SkipsNoiseBeforeMagic(t *testing.T) {
	noise := []byte{0x00, 0x11, 0x22, 0x33}
	frame := buildAckFrame(true, 0)
	port := newFakePort(append(noise, frame...))

	ack, err := ReadAck(port, nil, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ack.Success)
}

func TestReadAck_TimesOutWithNoData(t *testing.T) {
	port := newFakePort(nil)
	_, err := ReadAck(port, nil, 30*time.Millisecond)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, kind)
}

func TestReadAck_RespectsCancellation(t *testing.T) {
	port := newFakePort(nil)
	cancel := NewCancelContext()
	cancel.Cancel()

	_, err := ReadAck(port, cancel, time.Second)
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestFindMagic(t *testing.T) {
	buf := []byte{0x01, 0x02, 0xEF, 0xBE, 0xAD, 0xDE, 0x03}
	assert.Equal(t, 2, findMagic(buf))
	assert.Equal(t, -1, findMagic([]byte{0x01, 0x02}))
}
