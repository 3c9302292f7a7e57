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
package ingestion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for the ingestion subsystem.
type metricsIngestion struct {
	once sync.Once

	// Outcomes
	filesProcessed prometheus.Counter
	filesSkipped   *prometheus.CounterVec
	filesFailed    prometheus.Counter

	// Pushes
	pushRows    prometheus.Counter
	pushWrites  prometheus.Counter
	pushSplits  prometheus.Counter
	pushDropped prometheus.Counter

	trackerResets prometheus.Counter
	groupRuns     prometheus.Counter

	// Durations
	pushDuration  prometheus.Histogram
	groupDuration prometheus.Histogram
	runDuration   prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.filesProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_files_processed_total", Help: "Files that produced derived records"})
		m.filesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "repomine_ing_files_skipped_total", Help: "Files skipped, by reason"}, []string{"reason"})
		m.filesFailed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_files_failed_total", Help: "Files whose analysis returned an error"})

		m.pushRows = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_push_rows_total", Help: "Rows written to the warehouse"})
		m.pushWrites = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_push_writes_total", Help: "Successful warehouse writes"})
		m.pushSplits = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_push_splits_total", Help: "Batches halved to fit the batch limit"})
		m.pushDropped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_push_dropped_total", Help: "Records dropped after the push cascade"})

		m.trackerResets = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_tracker_resets_total", Help: "Ungrouped tables discarded as inconsistent"})
		m.groupRuns = prometheus.NewCounter(prometheus.CounterOpts{Name: "repomine_ing_group_runs_total", Help: "Grouping passes completed"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.pushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repomine_ing_push_seconds", Help: "Duration of warehouse writes", Buckets: buckets})
		m.groupDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repomine_ing_group_seconds", Help: "Duration of grouping passes", Buckets: buckets})
		m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repomine_ing_run_seconds", Help: "Duration of a stage run", Buckets: prometheus.ExponentialBuckets(1, 4, 10)})

		prometheus.MustRegister(
			m.filesProcessed, m.filesSkipped, m.filesFailed,
			m.pushRows, m.pushWrites, m.pushSplits, m.pushDropped,
			m.trackerResets, m.groupRuns,
			m.pushDuration, m.groupDuration, m.runDuration,
		)
	})
}

// record helpers - used by the pipeline, pusher and tracker
func recordOutcome(o Outcome) {
	ingMetrics.init()
	switch o.Kind {
	case Processed:
		ingMetrics.filesProcessed.Inc()
	case Skipped:
		ingMetrics.filesSkipped.WithLabelValues(string(o.Reason)).Inc()
	}
}

func recordFileFailed()   { ingMetrics.init(); ingMetrics.filesFailed.Inc() }
func recordPushSplit()    { ingMetrics.init(); ingMetrics.pushSplits.Inc() }
func recordPushDropped()  { ingMetrics.init(); ingMetrics.pushDropped.Inc() }
func recordTrackerReset() { ingMetrics.init(); ingMetrics.trackerResets.Inc() }

func recordPushRows(n int) {
	ingMetrics.init()
	ingMetrics.pushWrites.Inc()
	ingMetrics.pushRows.Add(float64(n))
}

func observePushLatency(d time.Duration) {
	ingMetrics.init()
	ingMetrics.pushDuration.Observe(d.Seconds())
}

func observeGroup(d time.Duration) {
	ingMetrics.init()
	ingMetrics.groupRuns.Inc()
	ingMetrics.groupDuration.Observe(d.Seconds())
}

func observeRun(d time.Duration) {
	ingMetrics.init()
	ingMetrics.runDuration.Observe(d.Seconds())
}
