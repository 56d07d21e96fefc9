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

package adapter

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/AshwinSarimin/microservice-operator/internal/model"
)

func flatSpec() map[string]interface{} {
	return map[string]interface{}{
		"image":    "nginx:1.25",
		"replicas": int64(2),
		"labels":   map[string]interface{}{"team": "payments"},
		"port":     int64(8080),
		"env": []interface{}{
			map[string]interface{}{"name": "PORT", "value": int64(8080)},
			map[string]interface{}{"name": "MODE", "value": "live"},
			map[string]interface{}{"name": "DEBUG", "value": false},
		},
		"resources":       map[string]interface{}{"cpu": "250m", "memory": "256Mi"},
		"node_selector":   map[string]interface{}{"pool": "general"},
		"service_account": "checkout-sa",
		"path":            "/api",
		"timeout":         "10s",
	}
}

func nestedSpec() map[string]interface{} {
	return map[string]interface{}{
		"replicas": int64(2),
		"labels":   map[string]interface{}{"team": "payments"},
		"containers": []interface{}{
			map[string]interface{}{
				"image": "nginx:1.25",
				"port":  int64(8080),
				"env": []interface{}{
					map[string]interface{}{"name": "PORT", "value": int64(8080)},
					map[string]interface{}{"name": "MODE", "value": "live"},
					map[string]interface{}{"name": "DEBUG", "value": false},
				},
				"resources": map[string]interface{}{"cpu": "250m", "memory": "256Mi"},
				"path":      "/api",
				"timeout":   "10s",
			},
		},
		"nodeSelector":       map[string]interface{}{"pool": "general"},
		"serviceAccountName": "checkout-sa",
	}
}

func TestDetectGeneration(t *testing.T) {
	tests := map[string]struct {
		raw     map[string]interface{}
		want    Generation
		wantErr error
	}{
		"flat":           {raw: flatSpec(), want: GenerationFlat},
		"nested":         {raw: nestedSpec(), want: GenerationNested},
		"empty is flat":  {raw: map[string]interface{}{}, want: GenerationFlat},
		"shared only":    {raw: map[string]interface{}{"replicas": int64(1)}, want: GenerationFlat},
		"mixed":          {raw: map[string]interface{}{"image": "x", "containers": []interface{}{}}, wantErr: ErrUnsupportedSpecShape},
		"nested no list": {raw: map[string]interface{}{"nodeSelector": map[string]interface{}{}}, wantErr: ErrUnsupportedSpecShape},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := DetectGeneration(tc.raw)
			if tc.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tc.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFromRawGenerationsAgree(t *testing.T) {
	flat, err := FromRaw(flatSpec())
	require.NoError(t, err)
	nested, err := FromRaw(nestedSpec())
	require.NoError(t, err)

	if diff := cmp.Diff(flat, nested); diff != "" {
		t.Errorf("generations disagree (-flat +nested):\n%s", diff)
	}

	assert.Equal(t, []model.EnvVar{
		{Name: "PORT", Value: "8080"},
		{Name: "MODE", Value: "live"},
		{Name: "DEBUG", Value: "false"},
	}, flat.Env)
	assert.Equal(t, "checkout-sa", flat.ServiceAccountName)
}

func TestFromRawDefaults(t *testing.T) {
	flat, err := FromRaw(map[string]interface{}{"image": "nginx"})
	require.NoError(t, err)
	nested, err := FromRaw(map[string]interface{}{
		"containers": []interface{}{map[string]interface{}{"image": "nginx"}},
	})
	require.NoError(t, err)

	want := model.MicroserviceSpec{
		Image:     "nginx",
		Replicas:  1,
		Port:      80,
		Resources: model.Resources{CPU: "100m", Memory: "128Mi"},
		Timeout:   "5s",
	}
	assert.Empty(t, cmp.Diff(want, flat))
	assert.Empty(t, cmp.Diff(want, nested))
}

func TestFromRawErrors(t *testing.T) {
	tests := map[string]struct {
		raw  map[string]interface{}
		want error
	}{
		"two containers": {
			raw: map[string]interface{}{"containers": []interface{}{
				map[string]interface{}{"image": "a"},
				map[string]interface{}{"image": "b"},
			}},
			want: ErrUnsupportedSpecShape,
		},
		"no containers": {
			raw:  map[string]interface{}{"containers": []interface{}{}},
			want: model.ErrValidation,
		},
		"object env value": {
			raw: map[string]interface{}{
				"image": "nginx",
				"env":   []interface{}{map[string]interface{}{"name": "A", "value": map[string]interface{}{"x": "y"}}},
			},
			want: model.ErrValidation,
		},
		"wrong port type": {
			raw:  map[string]interface{}{"image": "nginx", "port": "http"},
			want: model.ErrValidation,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromRaw(tc.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "unexpected error: %v", err)
		})
	}
}

func TestFromUnstructured(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "imran.dev.io/v1beta1",
		"kind":       "Microservice",
		"metadata":   map[string]interface{}{"name": "checkout", "namespace": "shop"},
		"spec":       flatSpec(),
	}}

	got, err := FromUnstructured(obj)
	require.NoError(t, err)
	assert.Equal(t, "nginx:1.25", got.Image)
	assert.Equal(t, "/api", got.Path)
}

func TestEnvValueText(t *testing.T) {
	tests := map[string]struct {
		raw     string
		want    string
		wantErr bool
	}{
		"string":  {raw: `"hello"`, want: "hello"},
		"escaped": {raw: `"a\"b"`, want: `a"b`},
		"integer": {raw: `8080`, want: "8080"},
		"float":   {raw: `1.5`, want: "1.5"},
		"true":    {raw: `true`, want: "true"},
		"null":    {raw: `null`, wantErr: true},
		"array":   {raw: `[1]`, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := EnvValueText(apiextensionsv1.JSON{Raw: []byte(tc.raw)})
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
