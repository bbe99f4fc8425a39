// Copyright 2025 Tom Barlow
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

package usagescript

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// invocationsTotal tracks finished invocations by outcome and error category
	invocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageprobe_invocations_total",
			Help: "Total usage script invocations by outcome and error category",
		},
		[]string{"outcome", "category"},
	)

	// phaseDuration tracks time spent in each invocation phase
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usageprobe_phase_duration_seconds",
			Help:    "Duration of usage script invocation phases",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"},
	)

	// policyRejections tracks egress policy rejections by code
	policyRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usageprobe_policy_rejections_total",
			Help: "Total outbound requests rejected by egress policy, by error code",
		},
		[]string{"code"},
	)

	// responseBytes tracks the size of accepted response bodies
	responseBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "usageprobe_response_bytes",
			Help:    "Size of upstream response bodies handed to extractors",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)

	// inflightInvocations tracks invocations currently running
	inflightInvocations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "usageprobe_invocations_inflight",
			Help: "Number of usage script invocations currently running",
		},
	)
)

// recordOutcome increments the invocation counter
func recordOutcome(outcome, category string) {
	invocationsTotal.WithLabelValues(outcome, category).Inc()
}

// recordPhase observes a phase duration
func recordPhase(p string, d time.Duration) {
	phaseDuration.WithLabelValues(p).Observe(d.Seconds())
}

// recordPolicyRejection increments the policy rejection counter
func recordPolicyRejection(code string) {
	policyRejections.WithLabelValues(code).Inc()
}

// recordResponseSize observes an accepted body size
func recordResponseSize(n int) {
	responseBytes.Observe(float64(n))
}
