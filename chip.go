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

import "fmt"

// ChipFamily identifies a supported HiSilicon target. WS63 is the only
// family with a shipped Flasher today; the others are registered so
// CreateFlasher has somewhere to grow without a call-site change.
type ChipFamily string

const (
	ChipWS63 ChipFamily = "ws63"
	ChipBS2X ChipFamily = "bs2x"
	ChipBS25 ChipFamily = "bs25"
	ChipWS53 ChipFamily = "ws53"
	ChipSW39 ChipFamily = "sw39"
)

// ChipConfig parameterizes a Flasher's timing and sequencing for one chip
// family. WS63DefaultConfig is the only populated config; others are
// placeholders a future family's Flasher constructor would fill in.
type ChipConfig struct {
	Family ChipFamily

	// HandshakeBaud is the baud rate used for the initial handshake,
	// before any SetBaudRate switch.
	HandshakeBaud int
	// TargetBaud is the baud rate switched to for the bulk of the
	// session, once the chip acknowledges it.
	TargetBaud int

	// LateBaudAfterLoaderBoot delays the baud switch until after the
	// loader-boot image has been downloaded, instead of switching
	// immediately after handshake. WS63's mask ROM bootloader needs this:
	// the loader-boot image relocates and re-enables its own UART driver
	// after being downloaded, and a baud change issued before that
	// finishes is lost.
	LateBaudAfterLoaderBoot bool

	// EraseSize is the default erase granularity passed in a Download
	// command when a descriptor doesn't specify one of its own.
	EraseSize uint32

	BootloaderPulse []BootloaderPulseStep
}

// WS63DefaultConfig is the reference timing/sequencing profile for WS63,
// grounded in the original Rust flasher's constants.
func WS63DefaultConfig() ChipConfig {
	return ChipConfig{
		Family:                  ChipWS63,
		HandshakeBaud:           115200,
		TargetBaud:              921600,
		LateBaudAfterLoaderBoot: true,
		EraseSize:               0x1000,
		BootloaderPulse:         DefaultBootloaderPulse(),
	}
}

// chipRegistry maps a ChipFamily to its default ChipConfig constructor.
var chipRegistry = map[ChipFamily]func() ChipConfig{
	ChipWS63: WS63DefaultConfig,
}

// NewChipConfig returns the default ChipConfig for family, or an error if
// the family has no registered Flasher yet.
func NewChipConfig(family ChipFamily) (ChipConfig, error) {
	ctor, ok := chipRegistry[family]
	if !ok {
		return ChipConfig{}, newInvalidArgumentError("new_chip_config", fmt.Errorf("unsupported chip family %q", family))
	}
	return ctor(), nil
}

// CreateFlasher builds the Flasher for family against port, using family's
// default ChipConfig. WS63 is the only family implemented; other
// registered families will gain their own Flasher type as this module
// grows, dispatched from here the same way.
func CreateFlasher(family ChipFamily, port Port) (*Flasher, error) {
	cfg, err := NewChipConfig(family)
	if err != nil {
		return nil, err
	}
	switch family {
	case ChipWS63:
		return NewFlasher(port, cfg), nil
	default:
		return nil, newInvalidArgumentError("create_flasher", fmt.Errorf("chip family %q has no Flasher implementation", family))
	}
}
