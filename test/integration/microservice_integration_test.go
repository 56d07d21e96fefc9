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
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"

	msv1alpha1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1alpha1"
	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

var _ = Describe("Microservice Integration", func() {
	var namespace string

	BeforeEach(func() {
		namespace = fmt.Sprintf("test-ms-%d", time.Now().UnixNano())
		CreateNamespace(namespace)
	})

	It("creates the shared Gateway at startup", func() {
		gw := &istioclientv1beta1.Gateway{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{
			Namespace: consts.GatewayNamespace,
			Name:      consts.GatewayName,
		}, gw)).To(Succeed())
		Expect(gw.Spec.Selector).To(HaveKeyWithValue("istio", consts.GatewaySelector))
	})

	It("reconciles a flat Microservice and removes its route when the path is dropped", func() {
		key := types.NamespacedName{Namespace: namespace, Name: "checkout"}
		ms := NewMicroservice(msv1alpha1.GroupVersion.String(), namespace, "checkout", map[string]interface{}{
			"image":    "nginx:1.25",
			"replicas": int64(2),
			"port":     int64(8080),
			"env": []interface{}{
				map[string]interface{}{"name": "PORT", "value": int64(8080)},
			},
			"path":    "/checkout",
			"timeout": "10s",
		})
		Expect(k8sClient.Create(ctx, ms)).To(Succeed())

		By("waiting for the Microservice to become Active")
		status := WaitForPhase(key, consts.PhaseActive, 1)
		Expect(status.Route).To(Equal(consts.RoutePresent))
		Expect(status.Children).To(HaveLen(3))

		By("checking the Deployment")
		deploy := &appsv1.Deployment{}
		Eventually(GetObject(key, deploy), timeout, interval).Should(Succeed())
		Expect(*deploy.Spec.Replicas).To(Equal(int32(2)))
		Expect(deploy.Spec.Template.Spec.Containers).To(HaveLen(1))
		Expect(deploy.Spec.Template.Spec.Containers[0].Image).To(Equal("nginx:1.25"))
		Expect(deploy.Spec.Template.Spec.Containers[0].Env).To(ConsistOf(corev1.EnvVar{Name: "PORT", Value: "8080"}))
		Expect(deploy.OwnerReferences).To(HaveLen(1))
		Expect(deploy.OwnerReferences[0].Kind).To(Equal(consts.KindMicroservice))

		By("checking the Service")
		svc := &corev1.Service{}
		Eventually(GetObject(key, svc), timeout, interval).Should(Succeed())
		Expect(svc.Spec.Ports).To(HaveLen(1))
		Expect(svc.Spec.Ports[0].Port).To(Equal(int32(8080)))

		By("checking the VirtualService")
		vs := &istioclientv1beta1.VirtualService{}
		Eventually(GetObject(key, vs), timeout, interval).Should(Succeed())
		Expect(vs.Spec.Http).To(HaveLen(1))
		Expect(vs.Spec.Http[0].Match[0].Uri.GetPrefix()).To(Equal("/checkout"))

		By("dropping the path")
		UpdateSpec(key, func(spec map[string]interface{}) {
			delete(spec, "path")
			spec["replicas"] = int64(3)
		})

		status = WaitForPhase(key, consts.PhaseActive, 2)
		Expect(status.Route).To(Equal(consts.RouteAbsent))
		Expect(status.Children).To(HaveLen(2))

		Eventually(func() bool {
			return apierrors.IsNotFound(k8sClient.Get(ctx, key, &istioclientv1beta1.VirtualService{}))
		}, timeout, interval).Should(BeTrue())

		Eventually(func(g Gomega) {
			g.Expect(k8sClient.Get(ctx, key, deploy)).To(Succeed())
			g.Expect(*deploy.Spec.Replicas).To(Equal(int32(3)))
		}, timeout, interval).Should(Succeed())
	})

	It("reconciles a nested Microservice without a route", func() {
		key := types.NamespacedName{Namespace: namespace, Name: "catalog"}
		ms := NewMicroservice(msv1beta1.GroupVersion.String(), namespace, "catalog", map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"image": "ghcr.io/shop/catalog:2.0"},
			},
			"serviceAccountName": "catalog-sa",
		})
		Expect(k8sClient.Create(ctx, ms)).To(Succeed())

		status := WaitForPhase(key, consts.PhaseActive, 1)
		Expect(status.Route).To(Equal(consts.RouteAbsent))

		deploy := &appsv1.Deployment{}
		Expect(k8sClient.Get(ctx, key, deploy)).To(Succeed())
		Expect(deploy.Spec.Template.Spec.ServiceAccountName).To(Equal("catalog-sa"))

		svc := &corev1.Service{}
		Expect(k8sClient.Get(ctx, key, svc)).To(Succeed())
		Expect(svc.Spec.Ports[0].Port).To(Equal(int32(80)))

		Consistently(func() bool {
			return apierrors.IsNotFound(k8sClient.Get(ctx, key, &istioclientv1beta1.VirtualService{}))
		}, 2*time.Second, interval).Should(BeTrue())
	})

	It("marks a Microservice without an image as Failed", func() {
		key := types.NamespacedName{Namespace: namespace, Name: "broken"}
		ms := NewMicroservice(msv1alpha1.GroupVersion.String(), namespace, "broken", map[string]interface{}{
			"port": int64(8080),
		})
		Expect(k8sClient.Create(ctx, ms)).To(Succeed())

		WaitForPhase(key, consts.PhaseFailed, 0)

		Consistently(func() bool {
			return apierrors.IsNotFound(k8sClient.Get(ctx, key, &appsv1.Deployment{}))
		}, 2*time.Second, interval).Should(BeTrue())
	})
})
