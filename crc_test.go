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
)

func TestCRC16XModem_KnownVector(t *testing.T) {
	got := CRC16XModem([]byte("123456789"))
	assert.Equal(t, uint16(0x31C3), got)
}

func TestCRC16XModem_Empty(t *testing.T) {
	assert.Equal(t, uint16(0), CRC16XModem(nil))
	assert.Equal(t, uint16(0), CRC16XModem([]byte{}))
}

func TestCRC16XModem_Deterministic(t *testing.T) {
	d := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03}
	assert.Equal(t, CRC16XModem(d), CRC16XModem(d))
}

func TestCRC16XModem_AppendedChecksumZeroes(t *testing.T) {
	for _, d := range [][]byte{
		{},
		{0x01},
		[]byte("123456789"),
		{0xEF, 0xBE, 0xAD, 0xDE, 0x12, 0x00, 0xF0, 0x0F},
	} {
		crc := CRC16XModem(d)
		extended := append(append([]byte{}, d...), byte(crc>>8), byte(crc))
		assert.Equal(t, uint16(0), CRC16XModem(extended), "d=% X", d)
	}
}
