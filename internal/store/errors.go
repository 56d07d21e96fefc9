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


package store

import (
	"context"

	"github.com/cockroachdb/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Classify wraps err with the operation and marks it as ErrNotFound,
// ErrTransient or ErrFatal. It returns nil for a nil err.
func Classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	wrapped := errors.Wrapf(err, format, args...)
	switch {
	case apierrors.IsNotFound(err):
		return errors.Mark(wrapped, ErrNotFound)
	case IsTransient(err):
		return errors.Mark(wrapped, ErrTransient)
	default:
		return errors.Mark(wrapped, ErrFatal)
	}
}

// IsTransient reports whether err is expected to clear up on its own.
func IsTransient(err error) bool {
	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		apierrors.IsConflict(err):
		return true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}

// Reason is a short label for metrics and status reasons.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "fatal"
	}
}
