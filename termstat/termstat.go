// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package termstat provides a harvest.Statter which periodically writes the
// harvest's counters and gauges to the terminal on a single line. It is meant
// for watching a harvest at the terminal, in lieu of a real collector.
package termstat

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is how often stats are written.
const DefaultInterval = 2 * time.Second

// Collector collects stats and prints them to the terminal.
type Collector struct {
	lock    sync.Mutex
	indexes map[string]int
	names   []string
	counts  []int64
	stats   []string
	changed bool
	out     io.Writer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCollector starts a Collector writing to out every interval. Close stops
// it.
func NewCollector(out io.Writer, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ts := &Collector{
		indexes: make(map[string]int),
		out:     out,
		done:    make(chan struct{}),
	}
	ts.wg.Add(1)
	go func() {
		defer ts.wg.Done()
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				ts.write()
			case <-ts.done:
				return
			}
		}
	}()
	return ts
}

// Close stops the collector and writes the last values followed by a
// newline.
func (t *Collector) Close() error {
	close(t.done)
	t.wg.Wait()
	t.write()
	_, err := fmt.Fprintln(t.out)
	return err
}

// index must be called with the lock held.
func (t *Collector) index(name string) int {
	idx, ok := t.indexes[name]
	if !ok {
		idx = len(t.stats)
		t.counts = append(t.counts, 0)
		t.stats = append(t.stats, "0")
		t.names = append(t.names, name)
		t.indexes[name] = idx
	}
	return idx
}

// Count adds value to the named stat at the specified rate.
func (t *Collector) Count(name string, value int64, rate float64, tags ...string) {
	if rate < 1 && rand.Float64() > rate {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	t.changed = true
	idx := t.index(name)
	t.counts[idx] += value
	t.stats[idx] = fmt.Sprint(t.counts[idx])
}

// Gauge sets the named stat to value.
func (t *Collector) Gauge(name string, value float64, rate float64, tags ...string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.changed = true
	t.stats[t.index(name)] = fmt.Sprint(value)
}

func (t *Collector) write() {
	sb := strings.Builder{}
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.changed {
		return
	}
	for i := 0; i < len(t.stats); i++ {
		_, _ = sb.WriteString(fmt.Sprintf("%s: %s ", t.names[i], t.stats[i]))
	}
	t.changed = false
	fmt.Fprint(t.out, "\r"+sb.String())
}

// Histogram does nothing.
func (t *Collector) Histogram(name string, value float64, rate float64, tags ...string) {}

// Set does nothing.
func (t *Collector) Set(name string, value string, rate float64, tags ...string) {}

// Timing does nothing.
func (t *Collector) Timing(name string, value time.Duration, rate float64, tags ...string) {}
