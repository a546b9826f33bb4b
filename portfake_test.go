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
	"sync"
	"time"
)

// fakePort is a minimal in-memory Port used across this package's tests.
// It is not a protocol simulator (see internal/wiresim for that); it just
// exposes a preloaded byte stream to Read and records what's written, with
// an optional hook to synthesize a response to each Write.
type fakePort struct {
	mu sync.Mutex

	readData []byte
	readPos  int

	writes [][]byte

	readTimeout time.Duration
	baud        int
	dtr, rts    bool
	closed      bool

	// writeHook, if set, is called with each Write's payload and its
	// return value is appended to the pending read stream.
	writeHook func(data []byte) []byte
}

var _ Port = (*fakePort)(nil)

func newFakePort(initialReadData []byte) *fakePort {
	return &fakePort{readData: initialReadData}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readPos >= len(p.readData) {
		return 0, nil
	}
	n := copy(buf, p.readData[p.readPos:])
	p.readPos += n
	return n, nil
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	cp := append([]byte{}, data...)
	p.writes = append(p.writes, cp)
	hook := p.writeHook
	p.mu.Unlock()

	if hook != nil {
		if resp := hook(cp); resp != nil {
			p.mu.Lock()
			p.readData = append(p.readData, resp...)
			p.mu.Unlock()
		}
	}
	return len(data), nil
}

func (p *fakePort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = timeout
	return nil
}

func (p *fakePort) SetBaud(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baud = baud
	return nil
}

func (p *fakePort) SetDTR(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dtr = level
	return nil
}

func (p *fakePort) SetRTS(level bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rts = level
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readPos = len(p.readData)
	return nil
}

func (p *fakePort) ResetOutputBuffer() error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func (p *fakePort) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}
