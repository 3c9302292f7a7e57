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
package collect

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsCollect struct {
	once  sync.Once
	repos *prometheus.CounterVec
}

var collectMetrics metricsCollect

func (m *metricsCollect) init() {
	m.once.Do(func() {
		m.repos = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repomine_collect_repos_total",
			Help: "Repositories visited by collectors, by outcome",
		}, []string{"collector", "outcome"})
		prometheus.MustRegister(m.repos)
	})
}

func recordRepo(collector string, o outcome) {
	collectMetrics.init()
	collectMetrics.repos.WithLabelValues(collector, string(o)).Inc()
}
