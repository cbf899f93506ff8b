// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package launch

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when a job ran out of time
var ErrTimeout = errors.New("job timed out")

// ErrCancelled is returned when a job was cancelled
var ErrCancelled = errors.New("job cancelled")

// InvalidTopologyError is returned when a job spec does not describe a valid topology
type InvalidTopologyError struct {
	Reason string
}

func (e *InvalidTopologyError) Error() string {
	return fmt.Sprintf("invalid topology: %s", e.Reason)
}

// InterfaceUnavailableError is returned when a network interface is not present on the resolving host
type InterfaceUnavailableError struct {
	Interface string
	Err       error
}

func (e *InterfaceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("network interface %q is not available: %v", e.Interface, e.Err)
	}
	return fmt.Sprintf("network interface %q is not available", e.Interface)
}

// SpawnError is returned when the worker of a given rank could not be started
type SpawnError struct {
	Rank int
	Host string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn rank %d on host %q: %v", e.Rank, e.Host, e.Err)
}

// WorkerFailedError reports a worker that did not exit successfully
type WorkerFailedError struct {
	Rank     int
	ExitCode int
	Reason   FailureReason
}

func (e *WorkerFailedError) Error() string {
	if e.Reason != ReasonNone {
		return fmt.Sprintf("rank %d failed: %s (exit code %d)", e.Rank, e.Reason, e.ExitCode)
	}
	return fmt.Sprintf("rank %d exited with code %d", e.Rank, e.ExitCode)
}

// IsInvalidTopologyError checks if an error is due to an invalid topology
func IsInvalidTopologyError(err error) bool {
	_, ok := errors.Cause(err).(*InvalidTopologyError)
	return ok
}

// IsInterfaceUnavailableError checks if an error is due to a missing network interface
func IsInterfaceUnavailableError(err error) bool {
	_, ok := errors.Cause(err).(*InterfaceUnavailableError)
	return ok
}

// IsSpawnError checks if an error is due to a worker that could not be started
func IsSpawnError(err error) bool {
	_, ok := errors.Cause(err).(*SpawnError)
	return ok
}

// IsWorkerFailedError checks if an error is due to a failed worker
func IsWorkerFailedError(err error) bool {
	_, ok := errors.Cause(err).(*WorkerFailedError)
	return ok
}

// IsTimeoutError checks if an error is due to a job timeout
func IsTimeoutError(err error) bool {
	return errors.Cause(err) == ErrTimeout
}

// IsCancelledError checks if an error is due to a job cancellation
func IsCancelledError(err error) bool {
	return errors.Cause(err) == ErrCancelled
}

// Err returns an error aggregating the failures of the job or nil if the job succeeded
func (r *JobResult) Err() error {
	var errs *multierror.Error
	switch r.Reason {
	case ReasonTimeout:
		errs = multierror.Append(errs, ErrTimeout)
	case ReasonCancelled:
		errs = multierror.Append(errs, ErrCancelled)
	}
	for _, w := range r.Workers {
		if !w.Succeeded() {
			errs = multierror.Append(errs, &WorkerFailedError{Rank: w.Rank, ExitCode: w.ExitCode, Reason: w.Reason})
		}
	}
	if errs != nil {
		errs.ErrorFormat = joinErrors
	}
	return errs.ErrorOrNil()
}

// joinErrors formats job errors on a single line so they fit in reports and logs
func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}
