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

import "time"

// RecordReconcile observes a finished pass. result is "success" or an error reason.
func RecordReconcile(trigger, result string, duration time.Duration) {
	reconcileDuration.WithLabelValues(trigger, result).Observe(duration.Seconds())
}

// RecordChildWrite counts a create, replace, update or delete of a child.
func RecordChildWrite(kind, action string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	childWritesTotal.WithLabelValues(kind, action, result).Inc()
}

// RecordRouteTransition counts the action the VirtualService state machine took.
func RecordRouteTransition(action string) {
	routeTransitionsTotal.WithLabelValues(action).Inc()
}

// RecordPreflight counts a Gateway bootstrap outcome (created, present, error).
func RecordPreflight(outcome string) {
	preflightTotal.WithLabelValues(outcome).Inc()
}
