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

// FlashFWPKG downloads the images selected from pkg. LoaderBoot, if
// present, is always downloaded first (it's required for a first-time
// flash regardless of selection). If selectedNames is empty, every
// normal image is then flashed in descriptor order; if non-empty, only
// the named normal images are flashed, still in descriptor order.
// An unknown name in selectedNames fails InvalidArgument before any
// command or byte reaches the port.
//
// FlashFWPKG also handles WS63's late baud switch: if the chip config
// requests it, the target baud is negotiated immediately after the
// loader-boot image finishes (or immediately, if the package carries no
// loader-boot image), before any normal image is sent.
//
// progress, if non-nil, is called after each acknowledged YMODEM data
// block with the bytes sent so far within the current image and that
// image's size; the count starts again for each image, and the caller is
// responsible for aggregating across images if it wants a whole-package
// percentage.
func (f *Flasher) FlashFWPKG(pkg *FWPKG, selectedNames []string, progress ProgressFunc) error {
	if !f.connected {
		return newInvalidArgumentError("flash_fwpkg", fmt.Errorf("Connect must succeed before FlashFWPKG"))
	}

	images, err := selectNormalImages(pkg, selectedNames)
	if err != nil {
		return err
	}

	if loader, ok := pkg.LoaderBoot(); ok {
		if err := f.downloadImage(pkg, loader, progress); err != nil {
			return err
		}
		if f.cfg.LateBaudAfterLoaderBoot && f.cfg.TargetBaud != f.cfg.HandshakeBaud {
			if err := f.switchBaud(f.cfg.TargetBaud); err != nil {
				return err
			}
		}
	} else if f.cfg.LateBaudAfterLoaderBoot && f.cfg.TargetBaud != f.cfg.HandshakeBaud {
		// No loader-boot image in this package; there's nothing to wait on,
		// so switch immediately instead of never switching at all.
		if err := f.switchBaud(f.cfg.TargetBaud); err != nil {
			return err
		}
	}

	for _, img := range images {
		if err := f.downloadImage(pkg, img, progress); err != nil {
			return err
		}
	}

	return nil
}

// selectNormalImages resolves selectedNames against pkg's normal images,
// preserving descriptor order. An empty selectedNames selects every
// normal image. A name with no matching descriptor fails InvalidArgument
// before the caller does anything else.
func selectNormalImages(pkg *FWPKG, selectedNames []string) ([]ImageDescriptor, error) {
	all := pkg.NormalImages()
	if len(selectedNames) == 0 {
		return all, nil
	}

	known := make(map[string]bool, len(all))
	for _, d := range all {
		known[d.Name] = true
	}
	for _, name := range selectedNames {
		if !known[name] {
			return nil, newInvalidArgumentError("flash_fwpkg", fmt.Errorf("unknown partition name %q", name))
		}
	}

	wanted := make(map[string]bool, len(selectedNames))
	for _, name := range selectedNames {
		wanted[name] = true
	}
	out := make([]ImageDescriptor, 0, len(selectedNames))
	for _, d := range all {
		if wanted[d.Name] {
			out = append(out, d)
		}
	}
	return out, nil
}

// downloadImage sends one Download command and its YMODEM-1K payload,
// retrying the command+transfer pair on a retryable device error.
func (f *Flasher) downloadImage(pkg *FWPKG, img ImageDescriptor, progress ProgressFunc) error {
	data := pkg.ImageData(img)
	eraseSize := f.cfg.EraseSize
	if img.BurnSize > 0 {
		eraseSize = img.BurnSize
	}

	var lastErr error
	for attempt := 0; attempt < MaxDownloadRetries; attempt++ {
		if err := f.cancel.Check(); err != nil {
			return err
		}

		if err := f.sendDownloadCommand(img.BurnAddr, uint32(len(data)), eraseSize); err != nil {
			lastErr = err
			if !IsRetryable(err) {
				return err
			}
			continue
		}

		sleepRespectingCancel(f.cancel, CommandDelay)

		sender := newYmodemSender(f.port, f.cancel, progress)
		if err := sender.Send(img.Name, data); err != nil {
			lastErr = err
			if IsCancelled(err) {
				return err
			}
			continue
		}

		ack, err := ReadAck(f.port, f.cancel, FlashCommitTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		if !ack.Success {
			lastErr = newFlashFailedError("download_image", "", ack.ErrorCode)
			continue
		}
		return nil
	}
	return lastErr
}

func (f *Flasher) sendDownloadCommand(flashAddr, length, eraseSize uint32) error {
	frame := EncodeFrame(CmdDownload, BuildDownloadPayload(flashAddr, length, eraseSize))
	f.trace.RecordTX(frame, "download")
	if _, err := f.port.Write(frame); err != nil {
		return newIoError("send_download_command", "", err)
	}

	ack, err := ReadAck(f.port, f.cancel, DownloadAckTimeout)
	if err != nil {
		return err
	}
	f.trace.RecordRX(nil, "download ack")
	if !ack.Success {
		return newFlashFailedError("send_download_command", "", ack.ErrorCode)
	}
	return nil
}

// EraseAll requests a full-chip erase ahead of flashing, useful when a
// package is smaller than the previous image occupying flash. It is
// implemented as a Download command with a zero-length payload and the
// full chip size as the erase size, mirroring the WS63 bootloader's own
// erase-without-write convention.
func (f *Flasher) EraseAll(flashAddr, chipSize uint32) error {
	if !f.connected {
		return newInvalidArgumentError("erase_all", fmt.Errorf("Connect must succeed before EraseAll"))
	}
	return f.sendDownloadCommand(flashAddr, 0, chipSize)
}
