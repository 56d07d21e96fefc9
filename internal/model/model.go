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

// Package model holds the canonical desired state of a Microservice,
// independent of the API generation it was declared with.
package model

import (
	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

// Defaults applied to fields left empty by either API generation.
const (
	DefaultReplicas int32 = 1
	DefaultPort     int32 = 80
	DefaultCPU            = "100m"
	DefaultMemory         = "128Mi"
	DefaultTimeout        = "5s"
)

// ErrValidation marks malformed or missing required fields.
var ErrValidation = errors.New("validation error")

// EnvVar is an environment variable whose value has already been rendered as text.
type EnvVar struct {
	Name  string
	Value string
}

// Resources are applied as both requests and limits.
type Resources struct {
	CPU    string
	Memory string
}

// MicroserviceSpec is the canonical desired state of a Microservice.
type MicroserviceSpec struct {
	Image              string
	Replicas           int32
	Labels             map[string]string
	Annotations        map[string]string
	Port               int32
	Env                []EnvVar
	Resources          Resources
	NodeSelector       map[string]string
	Affinity           *corev1.Affinity
	Tolerations        []corev1.Toleration
	ServiceAccountName string
	ImagePullSecrets   []string
	Path               string
	Timeout            string
}

// WithDefaults returns a copy of the spec with every empty defaulted field filled in.
func (s MicroserviceSpec) WithDefaults() MicroserviceSpec {
	if s.Replicas == 0 {
		s.Replicas = DefaultReplicas
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Resources.CPU == "" {
		s.Resources.CPU = DefaultCPU
	}
	if s.Resources.Memory == "" {
		s.Resources.Memory = DefaultMemory
	}
	if s.Timeout == "" {
		s.Timeout = DefaultTimeout
	}
	return s
}

// Route derives the RouteState from the declared path.
func (s MicroserviceSpec) Route() RouteState {
	if s.Path == "" {
		return RouteAbsent
	}
	return RoutePresent
}

// RouteState governs whether a VirtualService should exist.
type RouteState string

const (
	RoutePresent RouteState = consts.RoutePresent
	RouteAbsent  RouteState = consts.RouteAbsent
)

// Validate checks the fields every manifest needs.
func Validate(spec MicroserviceSpec, name, namespace string) error {
	switch {
	case name == "":
		return errors.Mark(errors.New("name must not be empty"), ErrValidation)
	case namespace == "":
		return errors.Mark(errors.New("namespace must not be empty"), ErrValidation)
	case spec.Image == "":
		return errors.Mark(errors.Newf("%s/%s: image must not be empty", namespace, name), ErrValidation)
	case spec.Replicas < 0:
		return errors.Mark(errors.Newf("%s/%s: replicas must not be negative, got %d", namespace, name, spec.Replicas), ErrValidation)
	case spec.Port < 0 || spec.Port > 65535:
		return errors.Mark(errors.Newf("%s/%s: port %d out of range", namespace, name, spec.Port), ErrValidation)
	}
	return nil
}

// OwnerLink points a managed child back at its Microservice.
type OwnerLink struct {
	APIVersion string
	Kind       string
	Name       string
	UID        types.UID
}

// Reference renders the link as a controller owner reference.
func (o OwnerLink) Reference() metav1.OwnerReference {
	return metav1.OwnerReference{
		APIVersion:         o.APIVersion,
		Kind:               o.Kind,
		Name:               o.Name,
		UID:                o.UID,
		Controller:         ptr.To(true),
		BlockOwnerDeletion: ptr.To(true),
	}
}

// ChildReference identifies a child touched by a reconciliation pass.
type ChildReference struct {
	APIVersion string
	Kind       string
	Name       string
	Namespace  string
	UID        types.UID
}
