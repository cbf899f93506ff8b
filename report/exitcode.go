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

package report

import (
	"github.com/ystia/hpclaunch/launch"
)

// Process exit codes of hpclaunch
const (
	ExitSuccess        = 0
	ExitPartialFailure = 1
	ExitTotalFailure   = 2
	ExitInvalidConfig  = 3
	ExitSpawnError     = 4
	ExitTimeout        = 124
	ExitCancelled      = 130
)

// ExitCode maps the outcome of a job to the exit code of hpclaunch.
//
// err is the error returned when running the job, result may be nil if the job could not be launched.
func ExitCode(result *launch.JobResult, err error) int {
	switch {
	case launch.IsCancelledError(err):
		return ExitCancelled
	case launch.IsSpawnError(err):
		return ExitSpawnError
	case err != nil:
		return ExitInvalidConfig
	case result == nil:
		return ExitTotalFailure
	}
	switch result.Reason {
	case launch.ReasonCancelled:
		return ExitCancelled
	case launch.ReasonTimeout:
		return ExitTimeout
	}
	switch result.Status {
	case launch.StatusSuccess:
		return ExitSuccess
	case launch.StatusPartialFailure:
		return ExitPartialFailure
	default:
		return ExitTotalFailure
	}
}
