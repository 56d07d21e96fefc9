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


// Package store is the thin declarative client the engine talks to. Every
// call carries its own deadline and every error is classified as not found,
// transient or fatal.
package store

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"
)

// DefaultTimeout bounds a single call when none is configured.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotFound marks a missing object.
	ErrNotFound = errors.New("object not found")
	// ErrTransient marks failures worth retrying the whole pass for.
	ErrTransient = errors.New("transient store error")
	// ErrFatal marks permanent failures such as authorization or invalid objects.
	ErrFatal = errors.New("fatal store error")
)

// CreateOutcome tells a successful create apart from an existing object.
type CreateOutcome int

const (
	// Created means the object did not exist and was created.
	Created CreateOutcome = iota
	// AlreadyExists means an object with the same name is already stored.
	AlreadyExists
)

func (o CreateOutcome) String() string {
	if o == AlreadyExists {
		return "AlreadyExists"
	}
	return "Created"
}

// Store is the contract the reconciliation engine consumes.
type Store interface {
	Get(ctx context.Context, key client.ObjectKey, obj client.Object) error
	GetByLabels(ctx context.Context, namespace string, labels map[string]string, obj client.Object) error
	Create(ctx context.Context, obj client.Object) (CreateOutcome, error)
	Replace(ctx context.Context, obj client.Object) error
	Delete(ctx context.Context, obj client.Object) error
}

// Client implements Store on top of a controller-runtime client.
type Client struct {
	client  client.Client
	timeout time.Duration
}

var _ Store = &Client{}

// New wraps c. A zero timeout falls back to DefaultTimeout.
func New(c client.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{client: c, timeout: timeout}
}

// Get reads obj by namespace and name.
func (s *Client) Get(ctx context.Context, key client.ObjectKey, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Get(ctx, key, obj); err != nil {
		return Classify(err, "get %s %s", s.kindOf(obj), key)
	}
	return nil
}

// GetByLabels fills obj with the first object of its kind in namespace
// carrying all labels.
func (s *Client) GetByLabels(ctx context.Context, namespace string, labels map[string]string, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	list, err := s.newListFor(obj)
	if err != nil {
		return errors.Mark(err, ErrFatal)
	}

	if err := s.client.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels(labels)); err != nil {
		return Classify(err, "list %s in %s", s.kindOf(obj), namespace)
	}

	items, err := meta.ExtractList(list)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "extracting list items"), ErrFatal)
	}
	if len(items) == 0 {
		return errors.Mark(
			errors.Newf("no %s in %s matches labels %v", s.kindOf(obj), namespace, labels),
			ErrNotFound,
		)
	}

	dst := reflect.ValueOf(obj)
	src := reflect.ValueOf(items[0])
	if dst.Kind() != reflect.Pointer || src.Kind() != reflect.Pointer || dst.Type() != src.Type() {
		return errors.Mark(errors.Newf("cannot copy %T into %T", items[0], obj), ErrFatal)
	}
	dst.Elem().Set(src.Elem())
	return nil
}

// Create stores obj. An existing object is reported as AlreadyExists rather
// than as an error.
func (s *Client) Create(ctx context.Context, obj client.Object) (CreateOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Create(ctx, obj); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return AlreadyExists, nil
		}
		return Created, Classify(err, "create %s %s", s.kindOf(obj), client.ObjectKeyFromObject(obj))
	}
	return Created, nil
}

// Replace overwrites the stored object with obj. An obj read from the store
// keeps its resourceVersion, so a concurrent writer surfaces as a transient
// conflict. Otherwise the stored resourceVersion is carried over, as is the
// allocated clusterIP of a Service.
func (s *Client) Replace(ctx context.Context, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := client.ObjectKeyFromObject(obj)
	if obj.GetResourceVersion() == "" {
		existing, ok := obj.DeepCopyObject().(client.Object)
		if !ok {
			return errors.Mark(errors.Newf("%T is not a client.Object", obj), ErrFatal)
		}
		if err := s.client.Get(ctx, key, existing); err != nil {
			return Classify(err, "get %s %s for replace", s.kindOf(obj), key)
		}

		obj.SetResourceVersion(existing.GetResourceVersion())
		carryImmutable(existing, obj)
	}

	if err := s.client.Update(ctx, obj); err != nil {
		return Classify(err, "replace %s %s", s.kindOf(obj), key)
	}
	return nil
}

// Delete removes obj.
func (s *Client) Delete(ctx context.Context, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Delete(ctx, obj); err != nil {
		return Classify(err, "delete %s %s", s.kindOf(obj), client.ObjectKeyFromObject(obj))
	}
	return nil
}

func (s *Client) newListFor(obj client.Object) (client.ObjectList, error) {
	if u, ok := obj.(*unstructured.Unstructured); ok {
		list := &unstructured.UnstructuredList{}
		gvk := u.GroupVersionKind()
		gvk.Kind += "List"
		list.SetGroupVersionKind(gvk)
		return list, nil
	}

	gvk, err := apiutil.GVKForObject(obj, s.client.Scheme())
	if err != nil {
		return nil, errors.Wrapf(err, "resolving kind of %T", obj)
	}
	gvk.Kind += "List"
	listObj, err := s.client.Scheme().New(gvk)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s", gvk.Kind)
	}
	list, ok := listObj.(client.ObjectList)
	if !ok {
		return nil, errors.Newf("%T is not a list", listObj)
	}
	return list, nil
}

func (s *Client) kindOf(obj runtime.Object) string {
	gvk, err := apiutil.GVKForObject(obj, s.client.Scheme())
	if err != nil {
		return strings.TrimPrefix(reflect.TypeOf(obj).String(), "*")
	}
	return gvk.Kind
}

// carryImmutable copies fields the API server refuses to change on update.
func carryImmutable(existing, desired client.Object) {
	oldSvc, ok := existing.(*corev1.Service)
	if !ok {
		return
	}
	newSvc, ok := desired.(*corev1.Service)
	if !ok {
		return
	}
	if newSvc.Spec.ClusterIP == "" {
		newSvc.Spec.ClusterIP = oldSvc.Spec.ClusterIP
		newSvc.Spec.ClusterIPs = oldSvc.Spec.ClusterIPs
	}
}
