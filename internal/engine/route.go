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


package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/AshwinSarimin/microservice-operator/internal/model"
	"github.com/AshwinSarimin/microservice-operator/internal/monitoring"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

// RouteAction is the single action the VirtualService state machine takes per pass.
type RouteAction string

const (
	RouteCreate RouteAction = "create"
	RouteUpdate RouteAction = "update"
	RouteDelete RouteAction = "delete"
	RouteNoop   RouteAction = "noop"
)

// RouteTransition reports the action taken and the VirtualService it touched.
// Child is nil for RouteNoop.
type RouteTransition struct {
	Action RouteAction
	Child  *model.ChildReference
}

// ReconcileVirtualService moves the VirtualService at key towards desired.
// A nil desired means the Microservice declares no path. Existence is
// checked with one read against the store, never a local cache.
func (e *Engine) ReconcileVirtualService(
	ctx context.Context,
	key client.ObjectKey,
	desired *istioclientv1beta1.VirtualService,
	owner model.OwnerLink,
) (RouteTransition, error) {
	ctx, span := monitoring.StartChildSpan(ctx, consts.KindVirtualService)
	defer span.End()

	logger := log.FromContext(ctx).WithValues("virtualService", key)

	var existing istioclientv1beta1.VirtualService
	found := true
	if err := e.store.Get(ctx, key, &existing); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			monitoring.RecordSpanError(span, err)
			return RouteTransition{}, err
		}
		found = false
	}

	var (
		transition RouteTransition
		err        error
	)
	switch {
	case desired != nil && !found:
		transition, err = e.createVirtualService(ctx, desired, owner)
	case desired != nil && found:
		transition, err = e.updateVirtualService(ctx, &existing, desired)
	case desired == nil && found:
		transition, err = e.deleteVirtualService(ctx, &existing)
	default:
		logger.V(1).Info("No route declared and no VirtualService present")
		transition = RouteTransition{Action: RouteNoop}
	}
	if err != nil {
		monitoring.RecordSpanError(span, err)
		return RouteTransition{}, err
	}

	monitoring.RecordRouteTransition(string(transition.Action))
	return transition, nil
}

func (e *Engine) createVirtualService(
	ctx context.Context,
	desired *istioclientv1beta1.VirtualService,
	owner model.OwnerLink,
) (RouteTransition, error) {
	ref, err := e.CreateOrReplace(ctx, desired, owner)
	if err != nil {
		return RouteTransition{}, err
	}
	log.FromContext(ctx).Info("Route activated", "prefix", routePrefix(desired))
	return RouteTransition{Action: RouteCreate, Child: &ref}, nil
}

// updateVirtualService rewrites gateway, prefix match, destination port and
// timeout. Hosts, identity and owner references are left as stored.
func (e *Engine) updateVirtualService(
	ctx context.Context,
	existing, desired *istioclientv1beta1.VirtualService,
) (RouteTransition, error) {
	existing.Spec.Gateways = desired.Spec.Gateways
	existing.Spec.Http = desired.Spec.Http

	err := e.store.Replace(ctx, existing)
	monitoring.RecordChildWrite(consts.KindVirtualService, ActionUpdate, err)
	if err != nil {
		return RouteTransition{}, err
	}
	ref := childReference(existing)
	return RouteTransition{Action: RouteUpdate, Child: &ref}, nil
}

// deleteVirtualService removes a route that is no longer declared. The
// deleted object is still reported so callers can observe the removal.
func (e *Engine) deleteVirtualService(
	ctx context.Context,
	existing *istioclientv1beta1.VirtualService,
) (RouteTransition, error) {
	err := e.store.Delete(ctx, existing)
	if errors.Is(err, store.ErrNotFound) {
		err = nil
	}
	monitoring.RecordChildWrite(consts.KindVirtualService, ActionDelete, err)
	if err != nil {
		return RouteTransition{}, err
	}
	log.FromContext(ctx).Info("Route removed")
	ref := childReference(existing)
	return RouteTransition{Action: RouteDelete, Child: &ref}, nil
}

func routePrefix(vs *istioclientv1beta1.VirtualService) string {
	if len(vs.Spec.Http) == 0 || len(vs.Spec.Http[0].Match) == 0 {
		return ""
	}
	return vs.Spec.Http[0].Match[0].GetUri().GetPrefix()
}
