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

package executil

import (
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

// ExitCode extracts the exit code of a command from the error returned by its Wait method.
//
// A nil error means a 0 exit code. Processes killed by a signal get the shell
// convention exit code 128+signal. An error is returned if err is not an exit error.
func ExitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	exitErr, ok := errors.Cause(err).(*exec.ExitError)
	if !ok {
		return -1, err
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}
