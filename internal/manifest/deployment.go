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
	"github.com/cockroachdb/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/AshwinSarimin/microservice-operator/internal/model"
)

// PortName names the container port and the Service port.
const PortName = "http"

// BuildDeployment creates the Deployment for a Microservice. It runs a
// single container named after the Microservice.
func BuildDeployment(spec model.MicroserviceSpec, name, namespace string) (*appsv1.Deployment, error) {
	if err := model.Validate(spec, name, namespace); err != nil {
		return nil, err
	}
	spec = spec.WithDefaults()

	resources, err := BuildResources(spec.Resources)
	if err != nil {
		return nil, errors.Wrapf(err, "%s/%s", namespace, name)
	}

	labels := PodLabels(name, spec.Labels)

	var pullSecrets []corev1.LocalObjectReference
	for _, s := range spec.ImagePullSecrets {
		pullSecrets = append(pullSecrets, corev1.LocalObjectReference{Name: s})
	}

	var affinity *corev1.Affinity
	if spec.Affinity != nil {
		affinity = spec.Affinity.DeepCopy()
	}

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apps/v1",
			Kind:       "Deployment",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      labels,
			Annotations: copyMap(spec.Annotations),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(spec.Replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: PodLabels(name, spec.Labels),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      PodLabels(name, spec.Labels),
					Annotations: copyMap(spec.Annotations),
				},
				Spec: corev1.PodSpec{
					ServiceAccountName: spec.ServiceAccountName,
					ImagePullSecrets:   pullSecrets,
					Containers: []corev1.Container{
						{
							Name:      name,
							Image:     spec.Image,
							Ports:     []corev1.ContainerPort{{Name: PortName, ContainerPort: spec.Port, Protocol: corev1.ProtocolTCP}},
							Env:       BuildEnv(spec.Env),
							Resources: resources,
						},
					},
					NodeSelector: copyMap(spec.NodeSelector),
					Affinity:     affinity,
					Tolerations:  append([]corev1.Toleration(nil), spec.Tolerations...),
				},
			},
		},
	}, nil
}

// BuildEnv keeps the declared order.
func BuildEnv(env []model.EnvVar) []corev1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	out := make([]corev1.EnvVar, 0, len(env))
	for _, e := range env {
		out = append(out, corev1.EnvVar{Name: e.Name, Value: e.Value})
	}
	return out
}

// BuildResources sets requests equal to limits.
func BuildResources(res model.Resources) (corev1.ResourceRequirements, error) {
	cpu, err := resource.ParseQuantity(res.CPU)
	if err != nil {
		return corev1.ResourceRequirements{}, errors.Mark(errors.Wrapf(err, "invalid cpu %q", res.CPU), model.ErrValidation)
	}
	memory, err := resource.ParseQuantity(res.Memory)
	if err != nil {
		return corev1.ResourceRequirements{}, errors.Mark(errors.Wrapf(err, "invalid memory %q", res.Memory), model.ErrValidation)
	}

	list := corev1.ResourceList{
		corev1.ResourceCPU:    cpu,
		corev1.ResourceMemory: memory,
	}
	return corev1.ResourceRequirements{
		Limits:   list,
		Requests: list.DeepCopy(),
	}, nil
}

func copyMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
