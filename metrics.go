// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vizier

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for a run.  It uses its own
// registry, so that several supervisors (e.g. in tests) do not collide.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Attempts *prometheus.CounterVec
	Restarts *prometheus.CounterVec
	Status   *prometheus.GaugeVec
	Live     prometheus.Gauge
	Phase    prometheus.Gauge
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vizier"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_attempts_total",
		Help:      "Total number of step attempts by result",
	}, []string{"step", "result"})
	m.Restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_restarts_total",
		Help:      "Total number of scheduled step restarts",
	}, []string{"step"})
	m.Status = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "step_status",
		Help:      "Current step status (0 pending, 1 running, 2 retrying, 3 succeeded, 4 failed)",
	}, []string{"step"})
	m.Live = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_processes",
		Help:      "Number of supervised processes currently running",
	})
	m.Phase = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_phase",
		Help:      "Current run phase (0 initializing, 1 running, 2 waiting, 3 draining, 4 terminated)",
	})

	m.registry.MustRegister(m.Attempts, m.Restarts, m.Status, m.Live, m.Phase)
	return m
}

// Registry returns the registry, for serving.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) attempt(step string, r ExitResult) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case !r.Spawned():
		result = "spawn_error"
	case !r.Success():
		result = "failure"
	}
	m.Attempts.WithLabelValues(step, result).Inc()
}

func (m *Metrics) restart(step string) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(step).Inc()
}

func (m *Metrics) status(step string, s StepStatus) {
	if m == nil {
		return
	}
	m.Status.WithLabelValues(step).Set(float64(s))
}

func (m *Metrics) live(n int) {
	if m == nil {
		return
	}
	m.Live.Set(float64(n))
}

func (m *Metrics) phase(p Phase) {
	if m == nil {
		return
	}
	m.Phase.Set(float64(p))
}
