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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsAPI struct {
	once      sync.Once
	requests  *prometheus.CounterVec
	cooldowns prometheus.Counter
}

var apiMetrics metricsAPI

func (m *metricsAPI) init() {
	m.once.Do(func() {
		m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repomine_ghapi_requests_total",
			Help: "GitHub API requests by outcome",
		}, []string{"outcome"})
		m.cooldowns = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repomine_ghapi_cooldowns_total",
			Help: "Cooldowns entered after a quota-exceeded response",
		})
		prometheus.MustRegister(m.requests, m.cooldowns)
	})
}

func recordRequest(outcome string) {
	apiMetrics.init()
	apiMetrics.requests.WithLabelValues(outcome).Inc()
}

func recordCooldown() {
	apiMetrics.init()
	apiMetrics.cooldowns.Inc()
}
