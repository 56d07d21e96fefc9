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

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EnvVar is a single environment variable. The value may be any JSON
// primitive; it is rendered as text in the generated container.
type EnvVar struct {
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// +kubebuilder:validation:Schemaless
	// +kubebuilder:pruning:PreserveUnknownFields
	Value apiextensionsv1.JSON `json:"value"`
}

// Resources holds the cpu and memory applied to the container.
type Resources struct {
	// CPU quantity (e.g. "100m")
	// +optional
	CPU string `json:"cpu,omitempty"`

	// Memory quantity (e.g. "128Mi")
	// +optional
	Memory string `json:"memory,omitempty"`
}

// MicroserviceSpec defines the desired state of Microservice.
// This generation keeps every container field flat on the spec.
type MicroserviceSpec struct {
	// Image is the container image to run
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Replicas of the Deployment, defaults to 1
	// +optional
	Replicas *int32 `json:"replicas,omitempty"`

	// +optional
	Labels map[string]string `json:"labels,omitempty"`

	// +optional
	Annotations map[string]string `json:"annotations,omitempty"`

	// Port is exposed by the container and the Service, defaults to 80
	// +optional
	Port int32 `json:"port,omitempty"`

	// +optional
	Env []EnvVar `json:"env,omitempty"`

	// +optional
	Resources *Resources `json:"resources,omitempty"`

	// +optional
	NodeSelector map[string]string `json:"node_selector,omitempty"`

	// +optional
	Affinity *corev1.Affinity `json:"affinity,omitempty"`

	// +optional
	Tolerations []corev1.Toleration `json:"tolerations,omitempty"`

	// +optional
	ServiceAccount string `json:"service_account,omitempty"`

	// Path is the route prefix. A VirtualService is only managed while it is set.
	// +optional
	Path string `json:"path,omitempty"`

	// Timeout of the routed requests, defaults to 5s
	// +optional
	Timeout string `json:"timeout,omitempty"`
}

// ChildReference identifies a resource managed on behalf of a Microservice.
type ChildReference struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Namespace  string `json:"namespace,omitempty"`
	UID        string `json:"uid,omitempty"`
}

// MicroserviceStatus defines the observed state of Microservice
type MicroserviceStatus struct {
	// Phase represents the current phase (Active, Failed)
	// +kubebuilder:validation:Enum=Active;Failed
	Phase string `json:"phase,omitempty"`

	// ObservedGeneration is the generation of the last successful pass
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Route is "present" while a path is declared, "absent" otherwise
	Route string `json:"route,omitempty"`

	// Children touched by the last pass
	Children []ChildReference `json:"children,omitempty"`

	// Conditions represent the latest available observations
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
// +kubebuilder:resource:scope=Namespaced,shortName=ms

// Microservice is the Schema for the microservices API
type Microservice struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   MicroserviceSpec   `json:"spec,omitempty"`
	Status MicroserviceStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// MicroserviceList contains a list of Microservice
type MicroserviceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Microservice `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Microservice{}, &MicroserviceList{})
}
