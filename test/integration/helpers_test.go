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


package integration

import (
	"time"

	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
)

// Test timing constants
const (
	timeout  = time.Second * 60
	interval = time.Millisecond * 500
)

// CreateNamespace creates a new namespace
func CreateNamespace(name string) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
		},
	}
	Expect(k8sClient.Create(ctx, ns)).To(Succeed())
}

// GetObject returns a function that gets an object from the cluster
func GetObject(key types.NamespacedName, obj client.Object) func() error {
	return func() error {
		return k8sClient.Get(ctx, key, obj)
	}
}

// NewMicroservice builds an unstructured Microservice written at apiVersion.
func NewMicroservice(apiVersion, namespace, name string, spec map[string]interface{}) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiVersion,
		"kind":       "Microservice",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
		},
		"spec": spec,
	}}
	return obj
}

// MicroserviceStatus reads the status of a Microservice.
func MicroserviceStatus(key types.NamespacedName) func() (msv1beta1.MicroserviceStatus, error) {
	return func() (msv1beta1.MicroserviceStatus, error) {
		obj := NewMicroservice(msv1beta1.GroupVersion.String(), key.Namespace, key.Name, nil)
		if err := k8sClient.Get(ctx, key, obj); err != nil {
			return msv1beta1.MicroserviceStatus{}, err
		}
		var status msv1beta1.MicroserviceStatus
		raw, _, err := unstructured.NestedMap(obj.Object, "status")
		if err != nil {
			return status, err
		}
		err = runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &status)
		return status, err
	}
}

// WaitForPhase waits for a Microservice to reach phase at or after generation.
func WaitForPhase(key types.NamespacedName, phase string, generation int64) msv1beta1.MicroserviceStatus {
	var status msv1beta1.MicroserviceStatus
	EventuallyWithOffset(1, func(g Gomega) {
		var err error
		status, err = MicroserviceStatus(key)()
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(status.Phase).To(Equal(phase))
		g.Expect(status.ObservedGeneration).To(BeNumerically(">=", generation))
	}, timeout, interval).Should(Succeed())
	return status
}

// UpdateSpec rewrites the spec of a Microservice, retrying on conflicts.
func UpdateSpec(key types.NamespacedName, mutate func(spec map[string]interface{})) {
	EventuallyWithOffset(1, func() error {
		obj := NewMicroservice(msv1beta1.GroupVersion.String(), key.Namespace, key.Name, nil)
		if err := k8sClient.Get(ctx, key, obj); err != nil {
			return err
		}
		spec, _, err := unstructured.NestedMap(obj.Object, "spec")
		if err != nil {
			return err
		}
		mutate(spec)
		if err := unstructured.SetNestedMap(obj.Object, spec, "spec"); err != nil {
			return err
		}
		return k8sClient.Update(ctx, obj)
	}, timeout, interval).Should(Succeed())
}
