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
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/helper/executil"
	"github.com/ystia/hpclaunch/log"
)

// DefaultOutputWaitDelay is the time given to a worker output pipes to be closed once the worker exited
const DefaultOutputWaitDelay = 2 * time.Second

// LocalSpawner starts workers on the local host, each one in its own process group
type LocalSpawner struct {
	// OutputWaitDelay bounds the time Wait waits for the output pipes to be closed after the worker exited.
	// Processes that left the worker process group may keep them open forever.
	// Zero means DefaultOutputWaitDelay.
	OutputWaitDelay time.Duration
}

type localProcess struct {
	cmd *executil.Cmd
}

// Spawn implements the Spawner interface
func (s LocalSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	if len(req.Command) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := executil.Command(ctx, req.Command[0], req.Command[1:]...)
	cmd.Dir = req.WorkingDirectory
	cmd.Env = append(os.Environ(), envList(req.Env)...)
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	cmd.WaitDelay = s.OutputWaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultOutputWaitDelay
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %q", req.Command[0])
	}
	return &localProcess{cmd: cmd}, nil
}

func (p *localProcess) Pid() int {
	return p.cmd.Pid()
}

func (p *localProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == exec.ErrWaitDelay {
		// The worker itself exited successfully
		log.Debugf("Output of process %d still open after it exited, closing it", p.cmd.Pid())
		return 0, nil
	}
	return executil.ExitCode(err)
}

func (p *localProcess) Terminate() error {
	return p.cmd.Terminate()
}

func (p *localProcess) Kill() error {
	return p.cmd.Kill()
}
