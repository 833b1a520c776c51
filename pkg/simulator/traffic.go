// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/onosproject/fabric-tunnel/pkg/utils"
)

const (
	packetsPerSecMin  = 10
	packetsPerSecMax  = 200
	bytesPerPacketMin = 60
	bytesPerPacketMax = 1500
)

// Periodically simulates traffic until the context is cancelled
func (sw *Switch) simulateTraffic(ctx context.Context, interval time.Duration) {
	defer close(sw.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sw.GenerateTraffic(now.Sub(last))
			last = now
		}
	}
}

// GenerateTraffic simulates the traffic hitting the installed entries during the given period. Every entry
// with an exact match is assumed to carry flow tagged by its match value, e.g. a tunnel ID, and the cell of
// each indexed counter at that index is incremented.
func (sw *Switch) GenerateTraffic(elapsed time.Duration) {
	sw.lock.Lock()
	defer sw.lock.Unlock()
	if sw.tables == nil {
		return
	}

	indexes := make(map[int64]bool)
	for _, table := range sw.tables.Tables() {
		for _, entry := range table.Entries() {
			for _, m := range entry.Match {
				if exact := m.GetExact(); exact != nil && len(exact.Value) <= 8 {
					indexes[int64(utils.DecodeValueAsUint64(exact.Value))] = true
				}
			}
		}
	}

	for _, counter := range sw.counters.Counters() {
		for index := range indexes {
			if index >= counter.Size() {
				continue
			}
			packets := packetsAmount(elapsed)
			_ = counter.Add(index, packets, bytesAmount(packets))
		}
	}
}

// Generates a random, but non-zero, number of packets in proportion to the elapsed time
func packetsAmount(elapsed time.Duration) int64 {
	millis := elapsed.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	min := millis * packetsPerSecMin / 1000
	spread := millis * (packetsPerSecMax - packetsPerSecMin) / 1000
	return 1 + min + rand.Int63n(spread+1)
}

// Generates a random number of bytes for the given number of packets
func bytesAmount(packets int64) int64 {
	return packets * (bytesPerPacketMin + rand.Int63n(bytesPerPacketMax-bytesPerPacketMin))
}
