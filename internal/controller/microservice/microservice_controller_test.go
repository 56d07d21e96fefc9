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

package microservice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
	"github.com/AshwinSarimin/microservice-operator/internal/engine"
	"github.com/AshwinSarimin/microservice-operator/internal/manifest"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

func newMicroservice(name string, spec map[string]interface{}) *unstructured.Unstructured {
	obj := NewObject()
	obj.SetName(name)
	obj.SetNamespace("shop")
	obj.SetUID(types.UID(name + "-uid"))
	obj.SetGeneration(1)
	obj.Object["spec"] = spec
	return obj
}

func newReconciler(funcs *interceptor.Funcs, objs ...client.Object) (*MicroserviceReconciler, client.Client) {
	builder := fake.NewClientBuilder().
		WithScheme(testScheme).
		WithObjects(objs...).
		WithStatusSubresource(NewObject())
	if funcs != nil {
		builder = builder.WithInterceptorFuncs(*funcs)
	}
	c := builder.Build()

	return &MicroserviceReconciler{
		Client: c,
		Scheme: testScheme,
		Engine: engine.New(store.New(c, time.Second), manifest.DefaultRouteOptions()),
	}, c
}

func reconcileKey(ctx context.Context, r *MicroserviceReconciler, name string) (ctrl.Result, error) {
	return r.Reconcile(ctx, ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "shop", Name: name}})
}

func fetchStatus(ctx context.Context, c client.Client, name string) msv1beta1.MicroserviceStatus {
	obj := NewObject()
	ExpectWithOffset(1, c.Get(ctx, client.ObjectKey{Namespace: "shop", Name: name}, obj)).To(Succeed())
	status, err := readStatus(obj)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return status
}

func childKinds(status msv1beta1.MicroserviceStatus) []string {
	kinds := make([]string, 0, len(status.Children))
	for _, c := range status.Children {
		kinds = append(kinds, c.Kind)
	}
	return kinds
}

var _ = Describe("Microservice Controller", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("with a flat v1alpha1 spec", func() {
		It("should create the children and drop the route when the path is removed", func() {
			ms := newMicroservice("checkout", map[string]interface{}{
				"image":    "nginx:1.25",
				"replicas": int64(2),
				"port":     int64(8080),
				"path":     "/api",
			})
			r, c := newReconciler(nil, ms)

			_, err := reconcileKey(ctx, r, "checkout")
			Expect(err).NotTo(HaveOccurred())

			key := client.ObjectKey{Namespace: "shop", Name: "checkout"}
			var deploy appsv1.Deployment
			Expect(c.Get(ctx, key, &deploy)).To(Succeed())
			Expect(*deploy.Spec.Replicas).To(Equal(int32(2)))
			Expect(deploy.Spec.Template.Spec.Containers[0].Ports[0].ContainerPort).To(Equal(int32(8080)))
			Expect(deploy.OwnerReferences).To(HaveLen(1))
			Expect(deploy.OwnerReferences[0].Kind).To(Equal("Microservice"))
			Expect(deploy.OwnerReferences[0].UID).To(Equal(types.UID("checkout-uid")))

			var svc corev1.Service
			Expect(c.Get(ctx, key, &svc)).To(Succeed())
			Expect(svc.Spec.Selector).To(Equal(deploy.Spec.Template.Labels))

			var vs istioclientv1beta1.VirtualService
			Expect(c.Get(ctx, key, &vs)).To(Succeed())
			Expect(vs.Spec.Http[0].Route[0].Destination.Host).To(Equal("checkout.shop.svc.cluster.local"))

			status := fetchStatus(ctx, c, "checkout")
			Expect(status.Phase).To(Equal(consts.PhaseActive))
			Expect(status.ObservedGeneration).To(Equal(int64(1)))
			Expect(status.Route).To(Equal(consts.RoutePresent))
			Expect(childKinds(status)).To(Equal([]string{"Deployment", "Service", "VirtualService"}))
			Expect(meta.IsStatusConditionTrue(status.Conditions, consts.ConditionTypeReady)).To(BeTrue())

			By("removing the path in a new generation")
			obj := NewObject()
			Expect(c.Get(ctx, key, obj)).To(Succeed())
			Expect(unstructured.SetNestedMap(obj.Object, map[string]interface{}{
				"image":    "nginx:1.25",
				"replicas": int64(2),
				"port":     int64(8080),
			}, "spec")).To(Succeed())
			obj.SetGeneration(2)
			Expect(c.Update(ctx, obj)).To(Succeed())

			_, err = reconcileKey(ctx, r, "checkout")
			Expect(err).NotTo(HaveOccurred())

			err = c.Get(ctx, key, &vs)
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			status = fetchStatus(ctx, c, "checkout")
			Expect(status.ObservedGeneration).To(Equal(int64(2)))
			Expect(status.Route).To(Equal(consts.RouteAbsent))
			Expect(childKinds(status)).To(Equal([]string{"Deployment", "Service"}))
		})

		It("should render numeric env values as text", func() {
			ms := newMicroservice("cart", map[string]interface{}{
				"image": "cart:2",
				"env": []interface{}{
					map[string]interface{}{"name": "PORT", "value": int64(8080)},
					map[string]interface{}{"name": "VERBOSE", "value": true},
				},
			})
			r, c := newReconciler(nil, ms)

			_, err := reconcileKey(ctx, r, "cart")
			Expect(err).NotTo(HaveOccurred())

			var deploy appsv1.Deployment
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "shop", Name: "cart"}, &deploy)).To(Succeed())
			Expect(deploy.Spec.Template.Spec.Containers[0].Env).To(Equal([]corev1.EnvVar{
				{Name: "PORT", Value: "8080"},
				{Name: "VERBOSE", Value: "true"},
			}))
			Expect(fetchStatus(ctx, c, "cart").Route).To(Equal(consts.RouteAbsent))
		})
	})

	Context("with a nested v1beta1 spec", func() {
		It("should read the single container declaration", func() {
			ms := newMicroservice("orders", map[string]interface{}{
				"replicas": int64(3),
				"containers": []interface{}{
					map[string]interface{}{
						"image": "orders:1.0",
						"port":  int64(9090),
						"path":  "/orders",
					},
				},
				"imagePullSecrets": []interface{}{"registry"},
			})
			r, c := newReconciler(nil, ms)

			_, err := reconcileKey(ctx, r, "orders")
			Expect(err).NotTo(HaveOccurred())

			key := client.ObjectKey{Namespace: "shop", Name: "orders"}
			var deploy appsv1.Deployment
			Expect(c.Get(ctx, key, &deploy)).To(Succeed())
			Expect(deploy.Spec.Template.Spec.Containers[0].Image).To(Equal("orders:1.0"))
			Expect(deploy.Spec.Template.Spec.ImagePullSecrets).To(Equal([]corev1.LocalObjectReference{{Name: "registry"}}))

			var vs istioclientv1beta1.VirtualService
			Expect(c.Get(ctx, key, &vs)).To(Succeed())
			Expect(vs.Spec.Http[0].Match[0].Uri.GetPrefix()).To(Equal("/orders"))
			Expect(vs.Spec.Http[0].Route[0].Destination.Port.Number).To(Equal(uint32(9090)))
		})

		It("should reject more than one container", func() {
			ms := newMicroservice("multi", map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{"image": "a:1"},
					map[string]interface{}{"image": "b:1"},
				},
			})
			r, c := newReconciler(nil, ms)

			result, err := reconcileKey(ctx, r, "multi")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))

			var deploys appsv1.DeploymentList
			Expect(c.List(ctx, &deploys)).To(Succeed())
			Expect(deploys.Items).To(BeEmpty())

			status := fetchStatus(ctx, c, "multi")
			Expect(status.Phase).To(Equal(consts.PhaseFailed))
			Expect(status.ObservedGeneration).To(BeZero())
			cond := meta.FindStatusCondition(status.Conditions, consts.ConditionTypeReady)
			Expect(cond).NotTo(BeNil())
			Expect(cond.Reason).To(Equal(consts.ReasonUnsupportedSpecShape))
			Expect(cond.Message).To(ContainSubstring("2 containers"))
		})
	})

	Context("when the pass fails", func() {
		It("should mark an invalid spec Failed without requeueing", func() {
			ms := newMicroservice("broken", map[string]interface{}{"replicas": int64(1)})
			r, c := newReconciler(nil, ms)

			_, err := reconcileKey(ctx, r, "broken")
			Expect(err).NotTo(HaveOccurred())

			status := fetchStatus(ctx, c, "broken")
			Expect(status.Phase).To(Equal(consts.PhaseFailed))
			cond := meta.FindStatusCondition(status.Conditions, consts.ConditionTypeReady)
			Expect(cond.Reason).To(Equal(consts.ReasonValidationFailed))
			Expect(cond.Message).To(ContainSubstring("image must not be empty"))
		})

		It("should return store errors and keep the create path", func() {
			ms := newMicroservice("checkout", map[string]interface{}{"image": "nginx:1.25"})
			r, c := newReconciler(&interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					if _, ok := obj.(*appsv1.Deployment); ok {
						return apierrors.NewForbidden(schema.GroupResource{Group: "apps", Resource: "deployments"}, obj.GetName(), errors.New("rbac"))
					}
					return c.Create(ctx, obj, opts...)
				},
			}, ms)

			_, err := reconcileKey(ctx, r, "checkout")
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, store.ErrFatal)).To(BeTrue())

			status := fetchStatus(ctx, c, "checkout")
			Expect(status.Phase).To(Equal(consts.PhaseFailed))
			Expect(status.ObservedGeneration).To(BeZero())
			cond := meta.FindStatusCondition(status.Conditions, consts.ConditionTypeReady)
			Expect(cond.Reason).To(Equal(consts.ReasonStoreError))
			Expect(cond.Message).To(ContainSubstring("rbac"))
		})

		It("should ignore a Microservice that no longer exists", func() {
			r, _ := newReconciler(nil)

			result, err := reconcileKey(ctx, r, "gone")
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(ctrl.Result{}))
		})
	})
})
