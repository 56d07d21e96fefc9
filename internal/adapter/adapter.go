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

// Package adapter normalises both Microservice API generations into the
// canonical model. The stored spec is schemaless, so the generation is
// picked from the shape of the spec rather than from the apiVersion.
package adapter

import (
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utiljson "k8s.io/apimachinery/pkg/util/json"

	msv1alpha1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1alpha1"
	msv1beta1 "github.com/AshwinSarimin/microservice-operator/api/microservice/v1beta1"
	"github.com/AshwinSarimin/microservice-operator/internal/model"
)

// ErrUnsupportedSpecShape marks specs the adapter refuses to guess about.
var ErrUnsupportedSpecShape = errors.New("unsupported spec shape")

// Generation identifies a spec shape.
type Generation string

const (
	// GenerationFlat keeps container fields directly on the spec.
	GenerationFlat Generation = "v1alpha1"
	// GenerationNested declares container fields in spec.containers.
	GenerationNested Generation = "v1beta1"
)

// keys that only exist in one generation
var (
	flatOnlyKeys   = []string{"image", "port", "env", "resources", "node_selector", "service_account", "path", "timeout"}
	nestedOnlyKeys = []string{"containers", "imagePullSecrets", "nodeSelector", "serviceAccountName"}
)

// DetectGeneration picks the generation a raw spec was written in.
func DetectGeneration(raw map[string]interface{}) (Generation, error) {
	flat := presentKeys(raw, flatOnlyKeys)
	nested := presentKeys(raw, nestedOnlyKeys)

	if len(flat) > 0 && len(nested) > 0 {
		return "", errors.Mark(
			errors.Newf("spec mixes flat fields %v with nested fields %v", flat, nested),
			ErrUnsupportedSpecShape,
		)
	}
	if _, ok := raw["containers"]; ok {
		return GenerationNested, nil
	}
	if len(nested) > 0 {
		return "", errors.Mark(
			errors.Newf("spec declares %v without containers", nested),
			ErrUnsupportedSpecShape,
		)
	}
	return GenerationFlat, nil
}

// FromUnstructured reads spec off a Microservice of either generation.
func FromUnstructured(obj *unstructured.Unstructured) (model.MicroserviceSpec, error) {
	raw, _, err := unstructured.NestedMap(obj.Object, "spec")
	if err != nil {
		return model.MicroserviceSpec{}, errors.Mark(errors.Wrap(err, "spec is not an object"), model.ErrValidation)
	}
	return FromRaw(raw)
}

// FromRaw decodes a raw spec into the typed generation it matches and
// maps that onto the canonical model.
func FromRaw(raw map[string]interface{}) (model.MicroserviceSpec, error) {
	if raw == nil {
		raw = map[string]interface{}{}
	}

	gen, err := DetectGeneration(raw)
	if err != nil {
		return model.MicroserviceSpec{}, err
	}

	switch gen {
	case GenerationNested:
		var spec msv1beta1.MicroserviceSpec
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &spec); err != nil {
			return model.MicroserviceSpec{}, errors.Mark(errors.Wrap(err, "decoding v1beta1 spec"), model.ErrValidation)
		}
		return FromV1Beta1(spec)
	default:
		var spec msv1alpha1.MicroserviceSpec
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(raw, &spec); err != nil {
			return model.MicroserviceSpec{}, errors.Mark(errors.Wrap(err, "decoding v1alpha1 spec"), model.ErrValidation)
		}
		return FromV1Alpha1(spec)
	}
}

// FromV1Alpha1 maps the flat generation.
func FromV1Alpha1(spec msv1alpha1.MicroserviceSpec) (model.MicroserviceSpec, error) {
	env, err := convertEnv(len(spec.Env), func(i int) (string, apiextensionsv1.JSON) {
		return spec.Env[i].Name, spec.Env[i].Value
	})
	if err != nil {
		return model.MicroserviceSpec{}, err
	}

	out := model.MicroserviceSpec{
		Image:              spec.Image,
		Labels:             spec.Labels,
		Annotations:        spec.Annotations,
		Port:               spec.Port,
		Env:                env,
		NodeSelector:       spec.NodeSelector,
		Affinity:           spec.Affinity,
		Tolerations:        spec.Tolerations,
		ServiceAccountName: spec.ServiceAccount,
		Path:               spec.Path,
		Timeout:            spec.Timeout,
	}
	if spec.Replicas != nil {
		out.Replicas = *spec.Replicas
	}
	if spec.Resources != nil {
		out.Resources = model.Resources{CPU: spec.Resources.CPU, Memory: spec.Resources.Memory}
	}
	return out.WithDefaults(), nil
}

// FromV1Beta1 maps the nested generation. Exactly one container is accepted.
func FromV1Beta1(spec msv1beta1.MicroserviceSpec) (model.MicroserviceSpec, error) {
	switch n := len(spec.Containers); {
	case n == 0:
		return model.MicroserviceSpec{}, errors.Mark(errors.New("spec.containers must declare one container"), model.ErrValidation)
	case n > 1:
		return model.MicroserviceSpec{}, errors.Mark(
			errors.Newf("spec.containers declares %d containers, only one is supported", n),
			ErrUnsupportedSpecShape,
		)
	}

	c := spec.Containers[0]
	env, err := convertEnv(len(c.Env), func(i int) (string, apiextensionsv1.JSON) {
		return c.Env[i].Name, c.Env[i].Value
	})
	if err != nil {
		return model.MicroserviceSpec{}, err
	}

	out := model.MicroserviceSpec{
		Image:              c.Image,
		Labels:             spec.Labels,
		Annotations:        spec.Annotations,
		Port:               c.Port,
		Env:                env,
		NodeSelector:       spec.NodeSelector,
		Affinity:           spec.Affinity,
		Tolerations:        spec.Tolerations,
		ServiceAccountName: spec.ServiceAccountName,
		ImagePullSecrets:   spec.ImagePullSecrets,
		Path:               c.Path,
		Timeout:            c.Timeout,
	}
	if spec.Replicas != nil {
		out.Replicas = *spec.Replicas
	}
	if c.Resources != nil {
		out.Resources = model.Resources{CPU: c.Resources.CPU, Memory: c.Resources.Memory}
	}
	return out.WithDefaults(), nil
}

func convertEnv(n int, at func(i int) (string, apiextensionsv1.JSON)) ([]model.EnvVar, error) {
	if n == 0 {
		return nil, nil
	}
	env := make([]model.EnvVar, 0, n)
	for i := 0; i < n; i++ {
		name, value := at(i)
		if name == "" {
			return nil, errors.Mark(errors.Newf("env[%d]: name must not be empty", i), model.ErrValidation)
		}
		text, err := EnvValueText(value)
		if err != nil {
			return nil, errors.Wrapf(err, "env %q", name)
		}
		env = append(env, model.EnvVar{Name: name, Value: text})
	}
	return env, nil
}

// EnvValueText renders a JSON primitive as the text an environment variable carries.
// Strings pass through, numbers keep their JSON spelling and booleans become true/false.
func EnvValueText(value apiextensionsv1.JSON) (string, error) {
	raw := bytes.TrimSpace(value.Raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.Mark(errors.New("value must be set"), model.ErrValidation)
	}

	switch raw[0] {
	case '"':
		var s string
		if err := utiljson.Unmarshal(raw, &s); err != nil {
			return "", errors.Mark(errors.Wrap(err, "decoding string value"), model.ErrValidation)
		}
		return s, nil
	case '{', '[':
		return "", errors.Mark(errors.Newf("value must be a string, number or boolean, got %s", raw), model.ErrValidation)
	default:
		// numbers and booleans are already in their text form
		return string(raw), nil
	}
}

func presentKeys(raw map[string]interface{}, keys []string) []string {
	var found []string
	for _, k := range keys {
		if _, ok := raw[k]; ok {
			found = append(found, k)
		}
	}
	sort.Strings(found)
	return found
}
