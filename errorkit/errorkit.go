// Copyright 2026 The A3s Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errorkit defines the closed set of error kinds a3s components
// raise. Components never return bare errors for anything that has a
// user-visible consequence; they return a *Error so the supervisor and
// the control API can classify the failure without string matching.
package errorkit

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies why an operation failed, independent of the Go error
// type that carries it.
type Kind string

const (
	KindConfigInvalid   Kind = "config-invalid"
	KindSpawnFailed     Kind = "spawn-failed"
	KindProbeTimeout    Kind = "probe-timeout"
	KindProbeRefused    Kind = "probe-refused"
	KindProbeBadStatus  Kind = "probe-bad-status"
	KindUnexpectedExit  Kind = "unexpected-exit"
	KindDependencyFail  Kind = "dependency-failed"
	KindShutdownTimeout Kind = "shutdown-timeout"
	KindRouteMiss       Kind = "route-miss"
)

// Error is the concrete error type carried by a Kind. It wraps an
// underlying cause (which may be nil) that carries a stack trace
// courtesy of github.com/pkg/errors; formatting the cause (via Unwrap)
// with %+v prints that trace, while Error() prints messages only.
type Error struct {
	Kind    Kind
	Service string
	cause   error
}

func (e *Error) Error() string {
	if e.Service != "" {
		if e.cause != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Service, e.cause)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Service)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New builds an *Error for the given kind and service, wrapping cause
// (which may be nil) with a stack trace via pkg/errors.
func New(kind Kind, service string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Service: service, cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	return e != nil && e.Kind == kind
}
