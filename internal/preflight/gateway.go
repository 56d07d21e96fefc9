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


// Package preflight prepares the cluster before any Microservice is reconciled.
package preflight

import (
	"context"

	"github.com/cockroachdb/errors"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/AshwinSarimin/microservice-operator/internal/manifest"
	"github.com/AshwinSarimin/microservice-operator/internal/monitoring"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
)

// Outcome of EnsureGateway.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomePresent Outcome = "present"
	OutcomeError   Outcome = "error"
)

// EnsureGateway creates the shared ingress Gateway when it is missing. An
// existing Gateway is never modified. Any error must abort startup.
func EnsureGateway(ctx context.Context, s store.Store) (outcome Outcome, err error) {
	logger := log.FromContext(ctx).WithName("preflight")

	ctx, span := monitoring.StartReconcileSpan(ctx, "Preflight.EnsureGateway", "", "", "Gateway")
	defer func() {
		monitoring.RecordSpanError(span, err)
		span.End()
		monitoring.RecordPreflight(string(outcome))
	}()

	desired := manifest.BuildGateway()
	key := client.ObjectKeyFromObject(desired)

	var existing istioclientv1beta1.Gateway
	err = s.Get(ctx, key, &existing)
	switch {
	case err == nil:
		logger.Info("Shared Gateway present", "gateway", key)
		return OutcomePresent, nil
	case !errors.Is(err, store.ErrNotFound):
		return OutcomeError, errors.Wrapf(err, "checking shared Gateway %s", key)
	}

	created, err := s.Create(ctx, desired)
	if err != nil {
		return OutcomeError, errors.Wrapf(err, "creating shared Gateway %s", key)
	}
	if created == store.AlreadyExists {
		logger.Info("Shared Gateway created concurrently", "gateway", key)
		return OutcomePresent, nil
	}

	logger.Info("Created shared Gateway", "gateway", key)
	return OutcomeCreated, nil
}
