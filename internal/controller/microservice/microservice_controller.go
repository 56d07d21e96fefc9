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
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
	"github.com/AshwinSarimin/microservice-operator/internal/adapter"
	"github.com/AshwinSarimin/microservice-operator/internal/engine"
	"github.com/AshwinSarimin/microservice-operator/internal/model"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

// GroupVersionKind is the version the controller reads and writes. The spec
// is schemaless so objects of either generation are served through it.
var GroupVersionKind = msv1beta1.GroupVersion.WithKind(consts.KindMicroservice)

// MicroserviceReconciler reconciles a Microservice object
type MicroserviceReconciler struct {
	client.Client
	Scheme                  *runtime.Scheme
	Engine                  *engine.Engine
	MaxConcurrentReconciles int
}

//+kubebuilder:rbac:groups=imran.dev.io,resources=microservices,verbs=get;list;watch
//+kubebuilder:rbac:groups=imran.dev.io,resources=microservices/status,verbs=get;update;patch
//+kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=networking.istio.io,resources=virtualservices,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups=networking.istio.io,resources=gateways,verbs=get;create

// Reconcile builds the children of a Microservice and records the outcome
// on its status. A Microservice that never completed a pass goes through
// the create path, every later generation through the update path.
func (r *MicroserviceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	obj := NewObject()
	if err := r.Get(ctx, req.NamespacedName, obj); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("Microservice not found, ignoring")
			return ctrl.Result{}, nil
		}
		logger.Error(err, "failed to get Microservice")
		return ctrl.Result{}, err
	}

	// Children are removed by the garbage collector through their owner references.
	if !obj.GetDeletionTimestamp().IsZero() {
		return ctrl.Result{}, nil
	}

	status, err := readStatus(obj)
	if err != nil {
		return ctrl.Result{}, err
	}

	spec, err := adapter.FromUnstructured(obj)
	if err != nil {
		reason := consts.ReasonValidationFailed
		if errors.Is(err, adapter.ErrUnsupportedSpecShape) {
			reason = consts.ReasonUnsupportedSpecShape
		}
		logger.Info("Microservice spec rejected", "reason", reason, "error", err.Error())
		return r.updateStatusFailed(ctx, obj, status, reason, err)
	}

	request := engine.Request{
		Spec:      spec,
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		Owner: model.OwnerLink{
			APIVersion: obj.GetAPIVersion(),
			Kind:       obj.GetKind(),
			Name:       obj.GetName(),
			UID:        obj.GetUID(),
		},
	}

	var result engine.Result
	if status.ObservedGeneration == 0 {
		result, err = r.Engine.OnCreate(ctx, request)
	} else {
		result, err = r.Engine.OnUpdate(ctx, request)
	}
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			logger.Info("Microservice spec rejected", "error", err.Error())
			return r.updateStatusFailed(ctx, obj, status, consts.ReasonValidationFailed, err)
		}
		logger.Error(err, "failed to reconcile Microservice children")
		if _, statusErr := r.updateStatusFailed(ctx, obj, status, consts.ReasonStoreError, err); statusErr != nil {
			logger.Error(statusErr, "failed to record failure on Microservice status")
		}
		return ctrl.Result{}, err
	}

	return r.updateStatusActive(ctx, obj, status, spec, result)
}

// updateStatusActive records a successful pass.
func (r *MicroserviceReconciler) updateStatusActive(
	ctx context.Context,
	obj *unstructured.Unstructured,
	status msv1beta1.MicroserviceStatus,
	spec model.MicroserviceSpec,
	result engine.Result,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	status.Phase = consts.PhaseActive
	status.ObservedGeneration = obj.GetGeneration()
	status.Route = string(spec.Route())
	status.Children = childrenStatus(result.Children)
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               consts.ConditionTypeReady,
		Status:             metav1.ConditionTrue,
		ObservedGeneration: obj.GetGeneration(),
		Reason:             consts.ReasonReconciliationSucceeded,
		Message:            "Microservice children reconciled",
	})

	if err := r.writeStatus(ctx, obj, status); err != nil {
		if apierrors.IsConflict(err) {
			logger.Info("Microservice status update conflict (Active), will retry")
			return ctrl.Result{RequeueAfter: time.Second}, nil
		}
		logger.Error(err, "failed to update Microservice status to Active")
		return ctrl.Result{}, err
	}

	logger.Info("Microservice marked as Active", "children", len(status.Children), "route", status.Route)
	return ctrl.Result{}, nil
}

// updateStatusFailed records the error of a failed pass. The observed
// generation is left alone so the next pass picks the same path.
func (r *MicroserviceReconciler) updateStatusFailed(
	ctx context.Context,
	obj *unstructured.Unstructured,
	status msv1beta1.MicroserviceStatus,
	reason string,
	cause error,
) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	status.Phase = consts.PhaseFailed
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               consts.ConditionTypeReady,
		Status:             metav1.ConditionFalse,
		ObservedGeneration: obj.GetGeneration(),
		Reason:             reason,
		Message:            cause.Error(),
	})

	if err := r.writeStatus(ctx, obj, status); err != nil {
		if apierrors.IsConflict(err) {
			logger.Info("Microservice status update conflict (Failed), will retry")
			return ctrl.Result{RequeueAfter: time.Second}, nil
		}
		logger.Error(err, "failed to update Microservice status to Failed")
		return ctrl.Result{}, err
	}

	logger.Info("Microservice marked as Failed", "reason", reason, "message", cause.Error())
	return ctrl.Result{}, nil
}

func (r *MicroserviceReconciler) writeStatus(ctx context.Context, obj *unstructured.Unstructured, status msv1beta1.MicroserviceStatus) error {
	raw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(&status)
	if err != nil {
		return errors.Wrap(err, "encoding Microservice status")
	}
	if err := unstructured.SetNestedMap(obj.Object, raw, "status"); err != nil {
		return errors.Wrap(err, "setting Microservice status")
	}
	return r.Status().Update(ctx, obj)
}

// NewObject returns an empty Microservice the client can decode into.
func NewObject() *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(GroupVersionKind)
	return obj
}

func readStatus(obj *unstructured.Unstructured) (msv1beta1.MicroserviceStatus, error) {
	var status msv1beta1.MicroserviceStatus
	raw, found, err := unstructured.NestedMap(obj.Object, "status")
	if err != nil {
		return status, errors.Wrap(err, "reading Microservice status")
	}
	if !found {
		return status, nil
	}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &status); err != nil {
		return status, errors.Wrap(err, "decoding Microservice status")
	}
	return status, nil
}

func childrenStatus(refs []model.ChildReference) []msv1beta1.ChildReference {
	out := make([]msv1beta1.ChildReference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, msv1beta1.ChildReference{
			APIVersion: ref.APIVersion,
			Kind:       ref.Kind,
			Name:       ref.Name,
			Namespace:  ref.Namespace,
			UID:        string(ref.UID),
		})
	}
	return out
}

// SetupWithManager sets up the controller with the Manager.
func (r *MicroserviceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	if err := istioclientv1beta1.AddToScheme(mgr.GetScheme()); err != nil {
		return err
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(NewObject(), builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&istioclientv1beta1.VirtualService{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Named("microservice").
		Complete(r)
}

