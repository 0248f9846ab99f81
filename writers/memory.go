//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of Songlake.
//
// Songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Songlake. If not, see https://www.gnu.org/licenses/.

package writers

import (
	"context"
	"fmt"
	"sync"

	"github.com/aaronlmathis/songlake/core"
)

// MemoryWriter implements core.DataSink by collecting records in memory.
// Extractors use it to gather a stream before deduplicating it.
type MemoryWriter struct {
	mu      sync.Mutex
	records []core.Record
	closed  bool
}

// NewMemoryWriter creates an empty collector.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// Write implements the core.DataSink interface.
func (m *MemoryWriter) Write(ctx context.Context, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory writer is closed")
	}
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryWriter) Flush() error { return nil }

func (m *MemoryWriter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Records returns the collected records in write order.
func (m *MemoryWriter) Records() []core.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Record(nil), m.records...)
}

// Len returns the number of collected records.
func (m *MemoryWriter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
