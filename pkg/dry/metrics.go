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
package dry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsDry holds Prometheus metrics for chunk detection.
type metricsDry struct {
	once sync.Once

	records prometheus.Counter
	skipped prometheus.Counter
	flushes prometheus.Counter
}

var dryMetrics metricsDry

func (m *metricsDry) init() {
	m.once.Do(func() {
		m.records = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_dry_records_total", Help: "Files read by the chunk detector"})
		m.skipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_dry_skipped_language_total", Help: "Files skipped for their language"})
		m.flushes = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_dry_flushes_total", Help: "Repositories flushed"})
		prometheus.MustRegister(m.records, m.skipped, m.flushes)
	})
}

func recordDryRecord()  { dryMetrics.init(); dryMetrics.records.Inc() }
func recordDrySkipped() { dryMetrics.init(); dryMetrics.skipped.Inc() }
func recordDryFlush()   { dryMetrics.init(); dryMetrics.flushes.Inc() }
