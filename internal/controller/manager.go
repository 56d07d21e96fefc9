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


// Package controller wires the Microservice controller into a
// controller-runtime manager.
package controller

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	msv1alpha1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1alpha1"
	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
	"github.com/AshwinSarimin/microservice-operator/internal/controller/microservice"
	"github.com/AshwinSarimin/microservice-operator/internal/engine"
	"github.com/AshwinSarimin/microservice-operator/internal/manifest"
	"github.com/AshwinSarimin/microservice-operator/internal/preflight"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
)

// Config holds all configuration options for the controller manager.
// Values are populated from CLI flags or MSO_* environment variables.
type Config struct {
	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string

	// HealthAddr is the address for health and readiness probe endpoints.
	HealthAddr string

	// LeaderElect enables leader election. Required when running multiple replicas.
	LeaderElect bool

	// LeaderElectionID is the name of the leader election lease.
	LeaderElectionID string

	// ClusterDomain is the DNS suffix used for VirtualService destinations.
	ClusterDomain string

	// StoreTimeout bounds every call to the API server.
	StoreTimeout time.Duration

	// MaxConcurrentReconciles is the number of Microservices reconciled in parallel.
	MaxConcurrentReconciles int
}

// NewScheme registers every type the operator reads or writes.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	for _, add := range []func(*runtime.Scheme) error{
		clientgoscheme.AddToScheme,
		istioclientv1beta1.AddToScheme,
		msv1alpha1.AddToScheme,
		msv1beta1.AddToScheme,
	} {
		if err := add(scheme); err != nil {
			return nil, errors.Wrap(err, "failed to build scheme")
		}
	}
	return scheme, nil
}

// Run ensures the shared Gateway exists, then starts the manager and blocks
// until ctx is cancelled or the manager fails. A failed Gateway bootstrap
// aborts before any Microservice is reconciled.
func Run(ctx context.Context, cfg *Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing controller manager")

	scheme, err := NewScheme()
	if err != nil {
		return err
	}

	mgrOptions := ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress: cfg.HealthAddr,
	}

	if cfg.LeaderElect {
		mgrOptions.LeaderElection = true
		mgrOptions.LeaderElectionID = cfg.LeaderElectionID

		logger.Info("leader election enabled", "id", cfg.LeaderElectionID)
	}

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load kubeconfig")
	}

	mgr, err := ctrl.NewManager(restConfig, mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	// The manager cache is not running yet, so the bootstrap talks to the API server directly.
	directClient, err := client.New(restConfig, client.Options{Scheme: scheme})
	if err != nil {
		return errors.Wrap(err, "failed to create bootstrap client")
	}

	outcome, err := preflight.EnsureGateway(log.IntoContext(ctx, logger), store.New(directClient, cfg.StoreTimeout))
	if err != nil {
		return errors.Wrap(err, "preflight failed")
	}
	logger.Info("preflight complete", "gateway", outcome)

	reconciler := &microservice.MicroserviceReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Engine: engine.New(
			store.New(mgr.GetClient(), cfg.StoreTimeout),
			manifest.RouteOptions{ClusterDomain: cfg.ClusterDomain, Gateway: manifest.GatewayRef},
		),
		MaxConcurrentReconciles: cfg.MaxConcurrentReconciles,
	}

	if err := reconciler.SetupWithManager(mgr); err != nil {
		return errors.Wrap(err, "failed to setup microservice controller")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager")

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
