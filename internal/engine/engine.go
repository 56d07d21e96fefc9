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


// Package engine converges the children of a Microservice. It builds every
// manifest up front, then writes them through the store with the
// create-or-replace protocol and drives the VirtualService state machine.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/AshwinSarimin/microservice-operator/internal/manifest"
	"github.com/AshwinSarimin/microservice-operator/internal/model"
	"github.com/AshwinSarimin/microservice-operator/internal/monitoring"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

// Triggers label metrics and spans.
const (
	TriggerCreate = "create"
	TriggerUpdate = "update"
)

// Write actions recorded per child.
const (
	ActionCreate  = "create"
	ActionReplace = "replace"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
)

// Request is one reconciliation pass for a Microservice.
type Request struct {
	Spec      model.MicroserviceSpec
	Name      string
	Namespace string
	Owner     model.OwnerLink
}

// Result lists the children a pass touched. Children holds the objects that
// exist after the pass in Deployment, Service, VirtualService order. Removed
// holds a VirtualService the pass deleted.
type Result struct {
	Children []model.ChildReference
	Removed  []model.ChildReference
	Route    RouteAction
}

// Engine reconciles Microservice children against a Store.
type Engine struct {
	store store.Store
	route manifest.RouteOptions
}

// New returns an Engine writing through s.
func New(s store.Store, opts manifest.RouteOptions) *Engine {
	return &Engine{store: s, route: opts}
}

type desiredState struct {
	deployment     *appsv1.Deployment
	service        *corev1.Service
	virtualService *istioclientv1beta1.VirtualService
}

// build renders every manifest of the pass before anything is written.
func (e *Engine) build(req Request) (desiredState, error) {
	deploy, err := manifest.BuildDeployment(req.Spec, req.Name, req.Namespace)
	if err != nil {
		return desiredState{}, err
	}
	svc, err := manifest.BuildService(req.Spec, req.Name, req.Namespace)
	if err != nil {
		return desiredState{}, err
	}

	state := desiredState{deployment: deploy, service: svc}
	if req.Spec.Route() == model.RoutePresent {
		vs, err := manifest.BuildVirtualService(req.Spec, req.Name, req.Namespace, e.route)
		if err != nil {
			return desiredState{}, err
		}
		state.virtualService = vs
	}
	return state, nil
}

// OnCreate handles a Microservice that has not completed a pass yet.
func (e *Engine) OnCreate(ctx context.Context, req Request) (Result, error) {
	return e.run(ctx, TriggerCreate, req, func(ctx context.Context, state desiredState) ([]model.ChildReference, error) {
		deploy, err := e.CreateOrReplace(ctx, state.deployment, req.Owner)
		if err != nil {
			return nil, err
		}
		svc, err := e.CreateOrReplace(ctx, state.service, req.Owner)
		if err != nil {
			return []model.ChildReference{deploy}, err
		}
		return []model.ChildReference{deploy, svc}, nil
	})
}

// OnUpdate handles a change to a Microservice whose children were created
// earlier. Existing children only get their mutable fields overwritten.
func (e *Engine) OnUpdate(ctx context.Context, req Request) (Result, error) {
	return e.run(ctx, TriggerUpdate, req, func(ctx context.Context, state desiredState) ([]model.ChildReference, error) {
		deploy, err := e.updateDeployment(ctx, req, state.deployment)
		if err != nil {
			return nil, err
		}
		svc, err := e.updateService(ctx, req, state.service)
		if err != nil {
			return []model.ChildReference{deploy}, err
		}
		return []model.ChildReference{deploy, svc}, nil
	})
}

func (e *Engine) run(
	ctx context.Context,
	trigger string,
	req Request,
	workload func(context.Context, desiredState) ([]model.ChildReference, error),
) (result Result, err error) {
	start := time.Now()
	ctx, span := monitoring.StartReconcileSpan(ctx, "Microservice.On"+titleTrigger(trigger), req.Name, req.Namespace, consts.KindMicroservice)
	defer func() {
		monitoring.RecordSpanError(span, err)
		span.End()
		monitoring.RecordReconcile(trigger, resultLabel(err), time.Since(start))
	}()

	logger := log.FromContext(ctx).WithValues("trigger", trigger)

	state, err := e.build(req)
	if err != nil {
		return Result{}, err
	}

	children, err := workload(ctx, state)
	result.Children = children
	if err != nil {
		return result, err
	}

	transition, err := e.ReconcileVirtualService(ctx, client.ObjectKey{Name: req.Name, Namespace: req.Namespace}, state.virtualService, req.Owner)
	if err != nil {
		return result, err
	}
	result.Route = transition.Action
	switch transition.Action {
	case RouteCreate, RouteUpdate:
		result.Children = append(result.Children, *transition.Child)
	case RouteDelete:
		result.Removed = append(result.Removed, *transition.Child)
	}

	logger.Info("Microservice children reconciled", "children", len(result.Children), "route", result.Route)
	return result, nil
}

// CreateOrReplace stamps the owner on obj and creates it. When an object of
// the same name exists it is replaced instead.
func (e *Engine) CreateOrReplace(ctx context.Context, obj client.Object, owner model.OwnerLink) (model.ChildReference, error) {
	kind := kindOf(obj)
	ctx, span := monitoring.StartChildSpan(ctx, kind)
	defer span.End()

	logger := log.FromContext(ctx).WithValues("kind", kind, "name", obj.GetName())

	stampOwner(obj, owner)

	outcome, err := e.store.Create(ctx, obj)
	if err != nil {
		monitoring.RecordChildWrite(kind, ActionCreate, err)
		monitoring.RecordSpanError(span, err)
		return model.ChildReference{}, err
	}
	if outcome == store.Created {
		monitoring.RecordChildWrite(kind, ActionCreate, nil)
		logger.Info("Created child")
		return childReference(obj), nil
	}

	logger.V(1).Info("Child already exists, replacing")
	err = e.store.Replace(ctx, obj)
	monitoring.RecordChildWrite(kind, ActionReplace, err)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return model.ChildReference{}, err
	}
	return childReference(obj), nil
}

// updateDeployment finds the Deployment by its standard labels and rewrites
// replicas and the container image, env and resources.
func (e *Engine) updateDeployment(ctx context.Context, req Request, desired *appsv1.Deployment) (model.ChildReference, error) {
	var existing appsv1.Deployment
	err := e.store.GetByLabels(ctx, req.Namespace, manifest.StandardLabels(req.Name), &existing)
	if errors.Is(err, store.ErrNotFound) {
		return e.CreateOrReplace(ctx, desired, req.Owner)
	}
	if err != nil {
		return model.ChildReference{}, err
	}

	ctx, span := monitoring.StartChildSpan(ctx, consts.KindDeployment)
	defer span.End()

	applyDeploymentSubset(&existing, desired)

	err = e.store.Replace(ctx, &existing)
	monitoring.RecordChildWrite(consts.KindDeployment, ActionUpdate, err)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return model.ChildReference{}, err
	}
	log.FromContext(ctx).V(1).Info("Updated Deployment", "name", existing.Name)
	return childReference(&existing), nil
}

// updateService finds the Service by its standard labels and rewrites its port.
func (e *Engine) updateService(ctx context.Context, req Request, desired *corev1.Service) (model.ChildReference, error) {
	var existing corev1.Service
	err := e.store.GetByLabels(ctx, req.Namespace, manifest.StandardLabels(req.Name), &existing)
	if errors.Is(err, store.ErrNotFound) {
		return e.CreateOrReplace(ctx, desired, req.Owner)
	}
	if err != nil {
		return model.ChildReference{}, err
	}

	ctx, span := monitoring.StartChildSpan(ctx, consts.KindService)
	defer span.End()

	applyServiceSubset(&existing, desired)

	err = e.store.Replace(ctx, &existing)
	monitoring.RecordChildWrite(consts.KindService, ActionUpdate, err)
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return model.ChildReference{}, err
	}
	log.FromContext(ctx).V(1).Info("Updated Service", "name", existing.Name)
	return childReference(&existing), nil
}

func applyDeploymentSubset(existing, desired *appsv1.Deployment) {
	existing.Spec.Replicas = desired.Spec.Replicas

	want := desired.Spec.Template.Spec.Containers[0]
	containers := existing.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		existing.Spec.Template.Spec.Containers = []corev1.Container{want}
		return
	}

	idx := 0
	for i := range containers {
		if containers[i].Name == want.Name {
			idx = i
			break
		}
	}
	containers[idx].Image = want.Image
	containers[idx].Env = want.Env
	containers[idx].Resources = want.Resources
}

func applyServiceSubset(existing, desired *corev1.Service) {
	want := desired.Spec.Ports[0]
	ports := existing.Spec.Ports
	if len(ports) == 0 {
		existing.Spec.Ports = []corev1.ServicePort{want}
		return
	}

	idx := 0
	for i := range ports {
		if ports[i].Name == want.Name {
			idx = i
			break
		}
	}
	ports[idx].Port = want.Port
	ports[idx].TargetPort = want.TargetPort
}

func stampOwner(obj client.Object, owner model.OwnerLink) {
	if owner.UID == "" {
		return
	}
	obj.SetOwnerReferences([]metav1.OwnerReference{owner.Reference()})
}

func kindOf(obj client.Object) string {
	switch obj.(type) {
	case *appsv1.Deployment:
		return consts.KindDeployment
	case *corev1.Service:
		return consts.KindService
	case *istioclientv1beta1.VirtualService:
		return consts.KindVirtualService
	case *istioclientv1beta1.Gateway:
		return consts.KindGateway
	default:
		return obj.GetObjectKind().GroupVersionKind().Kind
	}
}

func childReference(obj client.Object) model.ChildReference {
	ref := model.ChildReference{
		Kind:      kindOf(obj),
		Name:      obj.GetName(),
		Namespace: obj.GetNamespace(),
		UID:       obj.GetUID(),
	}
	switch obj.(type) {
	case *appsv1.Deployment:
		ref.APIVersion = appsv1.SchemeGroupVersion.String()
	case *corev1.Service:
		ref.APIVersion = corev1.SchemeGroupVersion.String()
	case *istioclientv1beta1.VirtualService, *istioclientv1beta1.Gateway:
		ref.APIVersion = istioclientv1beta1.SchemeGroupVersion.String()
	default:
		ref.APIVersion = obj.GetObjectKind().GroupVersionKind().GroupVersion().String()
	}
	return ref
}

func titleTrigger(trigger string) string {
	if trigger == TriggerCreate {
		return "Create"
	}
	return "Update"
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrValidation):
		return "validation_error"
	default:
		return store.Reason(err)
	}
}
