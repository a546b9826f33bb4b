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

// ProgressFunc reports byte-level transfer progress; sent is cumulative
// bytes transferred within the current image, total is that image's size.
// Implementations must return quickly; FlashFWPKG calls it from its own
// goroutine, never concurrently.
type ProgressFunc func(sent, total int64)

// PackageProgress aggregates per-image ProgressFunc callbacks from
// FlashFWPKG into a single whole-package fraction, for callers (a CLI
// progress bar, say) that don't want to track image boundaries themselves.
type PackageProgress struct {
	images      []ImageDescriptor
	totalBytes  int64
	doneBytes   int64
	currentSize int64
	currentTot  int64
	index       int
	onChange    func(done, total int64)
}

// NewPackageProgress builds a PackageProgress over pkg's images; onChange
// is invoked with cumulative bytes done and the package total every time
// the per-image callback fires.
func NewPackageProgress(pkg *FWPKG, onChange func(done, total int64)) *PackageProgress {
	images := pkg.Descriptors
	var total int64
	for _, img := range images {
		total += int64(img.Length)
	}
	return &PackageProgress{images: images, totalBytes: total, onChange: onChange}
}

// Callback returns a ProgressFunc suitable for passing to FlashFWPKG.
// FlashFWPKG calls it after each acknowledged data block, with sent counting
// from the start of the current image, so this advances its internal image
// index whenever it sees a fresh image start (sent not above the previously
// observed sent, or a different image size).
func (p *PackageProgress) Callback() ProgressFunc {
	return func(sent, total int64) {
		if p.currentTot != 0 && (sent <= p.currentSize || total != p.currentTot) {
			p.doneBytes += p.currentSize
			p.index++
		}
		p.currentSize = sent
		p.currentTot = total
		if p.onChange != nil {
			p.onChange(p.doneBytes+sent, p.totalBytes)
		}
	}
}
