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


// Package cmd implements the microservice-operator command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/AshwinSarimin/microservice-operator/internal/controller"
	"github.com/AshwinSarimin/microservice-operator/internal/manifest"
	"github.com/AshwinSarimin/microservice-operator/internal/store"
)

// Environments accepted by --env.
const (
	EnvDev  = "dev"
	EnvTest = "test"
	EnvProd = "prod"
)

var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

var rootCmd = &cobra.Command{
	Use:   "microservice-operator",
	Short: "Kubernetes operator that runs Microservice resources behind Istio",
	Long: `A Kubernetes operator that turns each Microservice resource into a
Deployment, a ClusterIP Service and, when a path is declared, an Istio
VirtualService bound to a shared ingress Gateway.`,
	RunE:          runOperator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	addFlags(rootCmd.PersistentFlags(), rootCmd.Flags())

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func addFlags(persistent, local *pflag.FlagSet) {
	persistent.String("env", EnvProd, "Deployment environment (dev, test, prod)")
	persistent.String("log-level", "info", "Log level (debug, info, warn, error)")

	local.String("metrics-bind-address", ":8080", "Address for metrics endpoint")
	local.String("health-probe-bind-address", ":8081", "Address for health probe endpoint")
	local.Bool("leader-elect", false, "Enable leader election for high availability")
	local.String("leader-election-id", "microservice-operator-leader", "Name of the leader election lease")
	local.String("cluster-domain", manifest.DefaultClusterDomain, "Kubernetes cluster domain")
	local.Duration("store-timeout", store.DefaultTimeout, "Timeout for each API server call")
	local.Int("max-concurrent-reconciles", 1, "Number of Microservices reconciled in parallel")
}

func initConfig() {
	viper.SetEnvPrefix("MSO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("env", EnvProd)
	viper.SetDefault("log-level", "info")
	viper.SetDefault("metrics-bind-address", ":8080")
	viper.SetDefault("health-probe-bind-address", ":8081")
	viper.SetDefault("leader-elect", false)
	viper.SetDefault("leader-election-id", "microservice-operator-leader")
	viper.SetDefault("cluster-domain", manifest.DefaultClusterDomain)
	viper.SetDefault("store-timeout", store.DefaultTimeout)
	viper.SetDefault("max-concurrent-reconciles", 1)
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

// loadConfig reads the manager configuration out of v.
func loadConfig(v *viper.Viper) (*controller.Config, error) {
	cfg := &controller.Config{
		MetricsAddr:             v.GetString("metrics-bind-address"),
		HealthAddr:              v.GetString("health-probe-bind-address"),
		LeaderElect:             v.GetBool("leader-elect"),
		LeaderElectionID:        v.GetString("leader-election-id"),
		ClusterDomain:           v.GetString("cluster-domain"),
		StoreTimeout:            v.GetDuration("store-timeout"),
		MaxConcurrentReconciles: v.GetInt("max-concurrent-reconciles"),
	}

	switch {
	case cfg.ClusterDomain == "":
		return nil, errors.New("cluster-domain must not be empty")
	case cfg.StoreTimeout <= 0:
		return nil, errors.Newf("store-timeout must be positive, got %s", cfg.StoreTimeout)
	case cfg.MaxConcurrentReconciles < 1:
		return nil, errors.Newf("max-concurrent-reconciles must be at least 1, got %d", cfg.MaxConcurrentReconciles)
	case cfg.LeaderElect && cfg.LeaderElectionID == "":
		return nil, errors.New("leader-election-id is required when leader-elect is enabled")
	}

	return cfg, nil
}

// loggerOptions maps --env and --log-level onto zap options.
// Development mode is used everywhere except prod.
func loggerOptions(v *viper.Viper) (*zap.Options, error) {
	env := v.GetString("env")
	switch env {
	case EnvDev, EnvTest, EnvProd:
	default:
		return nil, errors.Newf("unknown env %q, expected one of %s, %s, %s", env, EnvDev, EnvTest, EnvProd)
	}

	level, err := zapcore.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid log-level")
	}

	return &zap.Options{
		Development: env != EnvProd,
		Level:       level,
	}, nil
}

func runOperator(_ *cobra.Command, _ []string) error {
	opts, err := loggerOptions(viper.GetViper())
	if err != nil {
		return err
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(opts)))
	logger := ctrl.Log.WithName("setup")

	logger.Info("starting microservice-operator",
		"version", version,
		"gitsha", gitsha,
		"env", viper.GetString("env"),
	)

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		logger.Error(err, "invalid configuration")
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = log.IntoContext(ctx, ctrl.Log)

	if err := controller.Run(ctx, cfg); err != nil {
		logger.Error(err, "operator stopped")
		return errors.Wrap(err, "controller failed")
	}

	logger.Info("shutdown complete")

	return nil
}
