/*
Copyright 2026 The QuicFuscate Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package burst coalesces queued outbound payloads into bursts (spec
// §4.16): items queue by priority and deadline, and the buffer drains
// once it is full or once the configured max interval elapses,
// smoothing the traffic shape that would otherwise leak a per-write
// packet cadence to a passive observer.
package burst

import (
	"container/list"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// Item is one payload queued for the next burst.
type Item struct {
	Payload  []byte
	Priority int // higher drains first
	Deadline time.Time
}

// Config parameterizes a Buffer.
type Config struct {
	MinBytes    int
	MaxBytes    int
	MinInterval time.Duration
	MaxInterval time.Duration
	Clock       clockwork.Clock
}

// Buffer queues Items per priority tier and decides when to drain them
// as one burst. Not safe for concurrent use; the connection core's
// single-writer loop is the only caller.
type Buffer struct {
	cfg Config

	tiers      map[int]*list.List
	totalBytes int
	lastDrain  time.Time
}

// NewBuffer validates cfg and builds an empty Buffer.
func NewBuffer(cfg Config) (*Buffer, error) {
	if cfg.MinBytes <= 0 || cfg.MaxBytes <= 0 || cfg.MinBytes > cfg.MaxBytes {
		return nil, errkind.New(errkind.KindInvalidArgument, "burst: invalid min/max bytes (%d/%d)", cfg.MinBytes, cfg.MaxBytes)
	}
	if cfg.MaxInterval <= 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "burst: max_interval must be positive")
	}
	if cfg.MinInterval < 0 || cfg.MinInterval > cfg.MaxInterval {
		return nil, errkind.New(errkind.KindInvalidArgument, "burst: min_interval must be in [0, max_interval]")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Buffer{
		cfg:       cfg,
		tiers:     make(map[int]*list.List),
		lastDrain: cfg.Clock.Now(),
	}, nil
}

// Len returns the number of queued, undrained items.
func (b *Buffer) Len() int {
	n := 0
	for _, l := range b.tiers {
		n += l.Len()
	}
	return n
}

// TotalBytes returns the total payload bytes currently queued.
func (b *Buffer) TotalBytes() int { return b.totalBytes }

// Add queues it. If the buffer is now full (spec: "drains ... when
// full"), Add drains and returns the burst immediately; otherwise it
// returns nil and the item waits for Tick.
func (b *Buffer) Add(it Item) [][]byte {
	l, ok := b.tiers[it.Priority]
	if !ok {
		l = list.New()
		b.tiers[it.Priority] = l
	}
	l.PushBack(it)
	b.totalBytes += len(it.Payload)

	if b.totalBytes >= b.cfg.MaxBytes {
		return b.drain(b.cfg.Clock.Now())
	}
	return nil
}

// Tick is the connection core's periodic timer callback: it drains the
// buffer once MaxInterval has elapsed since the last drain and there is
// something queued, or once MinBytes is reached and MinInterval has
// elapsed. Returns nil if nothing was drained.
func (b *Buffer) Tick(now time.Time) [][]byte {
	if b.totalBytes == 0 {
		return nil
	}
	since := now.Sub(b.lastDrain)
	if since >= b.cfg.MaxInterval {
		return b.drain(now)
	}
	if b.totalBytes >= b.cfg.MinBytes && since >= b.cfg.MinInterval {
		return b.drain(now)
	}
	return nil
}

// drain empties every tier, highest priority first; within a tier
// items go out by earliest deadline, FIFO among equal deadlines. It
// then resets the drain clock.
func (b *Buffer) drain(now time.Time) [][]byte {
	priorities := make([]int, 0, len(b.tiers))
	for p, l := range b.tiers {
		if l.Len() > 0 {
			priorities = append(priorities, p)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	var out [][]byte
	for _, p := range priorities {
		l := b.tiers[p]
		items := make([]Item, 0, l.Len())
		for e := l.Front(); e != nil; e = e.Next() {
			items = append(items, e.Value.(Item))
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Deadline.Before(items[j].Deadline)
		})
		for _, it := range items {
			out = append(out, it.Payload)
		}
		l.Init()
	}
	b.totalBytes = 0
	b.lastDrain = now
	return out
}
