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
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/durationpb"
	networkingv1beta1 "istio.io/api/networking/v1beta1"
	istioclientv1beta1 "istio.io/client-go/pkg/apis/networking/v1beta1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/AshwinSarimin/microservice-operator/internal/model"
	"github.com/AshwinSarimin/microservice-operator/pkg/consts"
)

const (
	// DefaultClusterDomain is the DNS suffix of in-cluster Service addresses.
	DefaultClusterDomain = "cluster.local"

	// RouteHost is the host matched by every VirtualService and the Gateway.
	RouteHost = "*"

	// RewriteURI replaces the matched prefix.
	RewriteURI = "/"
)

// GatewayRef is the namespace/name reference VirtualServices attach to.
var GatewayRef = consts.GatewayNamespace + "/" + consts.GatewayName

// RouteOptions carries the cluster facts a VirtualService depends on.
type RouteOptions struct {
	ClusterDomain string
	Gateway       string
}

// DefaultRouteOptions targets cluster.local and the shared Gateway.
func DefaultRouteOptions() RouteOptions {
	return RouteOptions{ClusterDomain: DefaultClusterDomain, Gateway: GatewayRef}
}

func (o RouteOptions) withDefaults() RouteOptions {
	if o.ClusterDomain == "" {
		o.ClusterDomain = DefaultClusterDomain
	}
	if o.Gateway == "" {
		o.Gateway = GatewayRef
	}
	return o
}

// ServiceHost is the fully qualified in-cluster address of a Service.
func ServiceHost(name, namespace, clusterDomain string) string {
	return fmt.Sprintf("%s.%s.svc.%s", name, namespace, clusterDomain)
}

// BuildVirtualService routes the declared path prefix to the sibling Service.
// It is only valid while the spec declares a path.
func BuildVirtualService(
	spec model.MicroserviceSpec,
	name, namespace string,
	opts RouteOptions,
) (*istioclientv1beta1.VirtualService, error) {
	if err := model.Validate(spec, name, namespace); err != nil {
		return nil, err
	}
	if spec.Route() != model.RoutePresent {
		return nil, errors.Mark(errors.Newf("%s/%s: a VirtualService needs a path", namespace, name), model.ErrValidation)
	}
	spec = spec.WithDefaults()
	opts = opts.withDefaults()

	timeout, err := ParseTimeout(spec.Timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "%s/%s", namespace, name)
	}

	vs := &istioclientv1beta1.VirtualService{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "networking.istio.io/v1beta1",
			Kind:       "VirtualService",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      PodLabels(name, spec.Labels),
			Annotations: copyMap(spec.Annotations),
		},
	}
	SetRoute(&vs.Spec, spec.Path, ServiceHost(name, namespace, opts.ClusterDomain), spec.Port, opts.Gateway, timeout)
	return vs, nil
}

// SetRoute writes the four route fields the operator manages: gateway,
// prefix match, destination port and timeout.
func SetRoute(
	vs *networkingv1beta1.VirtualService,
	prefix, host string,
	port int32,
	gateway string,
	timeout time.Duration,
) {
	vs.Hosts = []string{RouteHost}
	vs.Gateways = []string{gateway}
	vs.Http = []*networkingv1beta1.HTTPRoute{
		{
			Match: []*networkingv1beta1.HTTPMatchRequest{
				{
					Uri: &networkingv1beta1.StringMatch{
						MatchType: &networkingv1beta1.StringMatch_Prefix{Prefix: prefix},
					},
				},
			},
			Rewrite: &networkingv1beta1.HTTPRewrite{Uri: RewriteURI},
			Route: []*networkingv1beta1.HTTPRouteDestination{
				{
					Destination: &networkingv1beta1.Destination{
						Host: host,
						Port: &networkingv1beta1.PortSelector{Number: uint32(port)},
					},
				},
			},
			Timeout: durationpb.New(timeout),
		},
	}
}

// ParseTimeout accepts Go duration strings such as "5s" or "1m30s".
func ParseTimeout(timeout string) (time.Duration, error) {
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "invalid timeout %q", timeout), model.ErrValidation)
	}
	if d <= 0 {
		return 0, errors.Mark(errors.Newf("timeout %q must be positive", timeout), model.ErrValidation)
	}
	return d, nil
}

// BuildGateway returns the cluster-wide ingress Gateway every VirtualService
// attaches to. It does not depend on any Microservice.
func BuildGateway() *istioclientv1beta1.Gateway {
	return &istioclientv1beta1.Gateway{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "networking.istio.io/v1beta1",
			Kind:       "Gateway",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      consts.GatewayName,
			Namespace: consts.GatewayNamespace,
			Labels: map[string]string{
				consts.LabelManagedBy: consts.ManagedBy,
			},
		},
		Spec: networkingv1beta1.Gateway{
			Selector: map[string]string{
				"istio": consts.GatewaySelector,
			},
			Servers: []*networkingv1beta1.Server{
				{
					Port: &networkingv1beta1.Port{
						Number:   80,
						Name:     "http",
						Protocol: "HTTP",
					},
					Hosts: []string{RouteHost},
				},
			},
		},
	}
}
