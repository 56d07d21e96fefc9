/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "microservice_operator_reconcile_duration_seconds",
			Help:    "Duration of Microservice reconciliation passes in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger", "result"},
	)

	childWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microservice_operator_child_writes_total",
			Help: "Writes issued for managed children by kind and action.",
		},
		[]string{"kind", "action", "result"},
	)

	routeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microservice_operator_route_transitions_total",
			Help: "VirtualService state machine transitions by action.",
		},
		[]string{"action"},
	)

	preflightTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microservice_operator_preflight_total",
			Help: "Outcomes of the shared Gateway bootstrap.",
		},
		[]string{"outcome"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileDuration,
		childWritesTotal,
		routeTransitionsTotal,
		preflightTotal,
	)
}

// Collectors returns all registered metric collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		reconcileDuration,
		childWritesTotal,
		routeTransitionsTotal,
		preflightTotal,
	}
}
