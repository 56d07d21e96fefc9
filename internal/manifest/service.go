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


package manifest

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/AshwinSarimin/microservice-operator/internal/model"
)

// BuildService creates the ClusterIP Service in front of the Deployment pods.
// The service port and target port are the same.
func BuildService(spec model.MicroserviceSpec, name, namespace string) (*corev1.Service, error) {
	if err := model.Validate(spec, name, namespace); err != nil {
		return nil, err
	}
	spec = spec.WithDefaults()

	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Service",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      PodLabels(name, spec.Labels),
			Annotations: copyMap(spec.Annotations),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: PodLabels(name, spec.Labels),
			Ports:    BuildServicePorts(spec.Port),
		},
	}, nil
}

// BuildServicePorts maps the single named port onto the container port.
func BuildServicePorts(port int32) []corev1.ServicePort {
	return []corev1.ServicePort{
		{
			Name:       PortName,
			Port:       port,
			TargetPort: intstr.FromInt32(port),
			Protocol:   corev1.ProtocolTCP,
		},
	}
}
