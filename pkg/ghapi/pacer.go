// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ghapi

import (
	"context"
	"sync"
	"time"
)

// Pacer spaces outbound calls by a fixed interval derived from an hourly quota.
//
// Every call to Wait sleeps the full interval before returning, whatever the
// latency of the previous request. Waits are serialized, so a Pacer shared by
// several goroutines still admits at most one call per interval overall.
type Pacer struct {
	interval time.Duration
	mu       sync.Mutex
	sleep    func(context.Context, time.Duration) error
}

// NewPacer returns a Pacer for quotaPerHour calls per hour plus margin per call.
// A non-positive quota disables pacing.
func NewPacer(quotaPerHour int, margin time.Duration) *Pacer {
	var interval time.Duration
	if quotaPerHour > 0 {
		interval = time.Hour/time.Duration(quotaPerHour) + margin
	}
	return &Pacer{interval: interval, sleep: Sleep}
}

// Interval is the fixed delay applied before each call.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Wait blocks for one interval. It returns early with ctx.Err() if ctx ends.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleep(ctx, p.interval)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
