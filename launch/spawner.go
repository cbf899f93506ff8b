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
	"context"
	"io"
)

// SpawnRequest holds everything needed to start the worker of a rank
type SpawnRequest struct {
	Rank             int
	Host             string
	Command          []string
	WorkingDirectory string
	Env              map[string]string
	Stdout           io.Writer
	Stderr           io.Writer
}

// A Process is a started worker
type Process interface {
	// Pid returns the process ID of the worker or 0 if it is not known
	Pid() int
	// Wait blocks until the worker exits and returns its exit code
	Wait() (int, error)
	// Terminate asks the worker to stop
	Terminate() error
	// Kill forces the worker to stop
	Kill() error
}

// A Spawner starts worker processes.
//
// The given context bounds the lifetime of the started process.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Process, error)
}

// CommandWrapper transforms the command of a rank before it is spawned
type CommandWrapper interface {
	WrapCommand(command []string, workingDirectory string, env map[string]string) ([]string, error)
}

func wrapCommand(wrappers []CommandWrapper, command []string, workingDirectory string, env map[string]string) ([]string, error) {
	var err error
	for _, w := range wrappers {
		command, err = w.WrapCommand(command, workingDirectory, env)
		if err != nil {
			return nil, err
		}
	}
	return command, nil
}
