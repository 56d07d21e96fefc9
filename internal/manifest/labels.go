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


// Package manifest builds the documents the operator keeps in the cluster.
// Every builder is a pure function of the canonical spec.
package manifest

import (
	"maps"

	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

// StandardLabels are the labels the operator owns on every child.
func StandardLabels(name string) map[string]string {
	return map[string]string{
		consts.LabelName:      name,
		consts.LabelManagedBy: consts.ManagedBy,
	}
}

// PodLabels merges user labels under the standard ones. The result is the
// Deployment selector, its pod template labels and the Service selector.
func PodLabels(name string, userLabels map[string]string) map[string]string {
	labels := make(map[string]string, len(userLabels)+2)
	maps.Copy(labels, userLabels)
	maps.Copy(labels, StandardLabels(name))
	return labels
}
