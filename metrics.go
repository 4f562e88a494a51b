// Copyright 2024 The Cockroach Authors
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

package identity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments one or more registries. Gauges are maintained as
// deltas so that registries sharing a Metrics report their sum. A nil
// *Metrics records nothing.
type Metrics struct {
	rebuilds *prometheus.CounterVec
	entries  prometheus.Gauge
	buckets  prometheus.Gauge
}

// NewMetrics creates the registry metrics and registers them with reg. reg
// may be nil, in which case the metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		rebuilds: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "identity_registry_rebuilds_total",
			Help: "Total number of bucket table rebuilds.",
		}, []string{"reason"}),
		entries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "identity_registry_entries",
			Help: "Number of tracked key/id mappings.",
		}),
		buckets: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "identity_registry_buckets",
			Help: "Number of allocated buckets.",
		}),
	}
}

func (m *Metrics) observeRebuild(reason string, bucketDelta int) {
	if m == nil {
		return
	}
	m.rebuilds.WithLabelValues(reason).Inc()
	m.buckets.Add(float64(bucketDelta))
}

func (m *Metrics) addEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Add(float64(n))
}

func (m *Metrics) addBuckets(n int) {
	if m == nil {
		return
	}
	m.buckets.Add(float64(n))
}
