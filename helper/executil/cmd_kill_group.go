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

//go:build !windows
// +build !windows

package executil

import (
	"context"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/log"
)

// Cmd represents an external command being prepared or run.
//
// It's an extension of exec.Cmd that runs the command in its own process group
// and signals the whole process tree instead of just the parent process.
type Cmd struct {
	ctx context.Context
	*exec.Cmd
	waitDone chan struct{}
}

// Command returns the Cmd struct to execute the named program with
// the given arguments.
//
// The provided context is used to kill the process tree (by calling
// syscall.Kill(-c.Process.Pid, syscall.SIGKILL)) if the context becomes done before the command
// completes on its own.
func Command(ctx context.Context, name string, arg ...string) *Cmd {
	log.Debugf("The 'kill group' command '%s %q' will be executed...", name, arg)
	if ctx == nil {
		panic("nil Context")
	}
	innerCmd := exec.Command(name, arg...)
	cmd := &Cmd{ctx: ctx, Cmd: innerCmd, waitDone: make(chan struct{})}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	return cmd
}

// Run starts the specified command and waits for it to complete.
func (c *Cmd) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

// Start starts the specified command but does not wait for it to complete.
//
// The Wait method will return the exit code and release associated resources
// once the command exits.
func (c *Cmd) Start() error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	if err := c.Cmd.Start(); err != nil {
		return err
	}
	go func() {
		select {
		case <-c.ctx.Done():
			if err := c.Kill(); err != nil {
				log.Debugf("failed to kill process group %d: %v", c.Process.Pid, err)
			}
		case <-c.waitDone:
		}
	}()
	return nil
}

// Wait waits for the command to exit.
// It must have been started by Start.
//
// Wait releases any resources associated with the Cmd.
func (c *Cmd) Wait() error {
	defer close(c.waitDone)
	return c.Cmd.Wait()
}

// Pid returns the process id of the started command or 0 if it is not started
func (c *Cmd) Pid() int {
	if c.Process == nil {
		return 0
	}
	return c.Process.Pid
}

// Terminate sends a SIGTERM signal to the whole process group
func (c *Cmd) Terminate() error {
	return c.signalGroup(syscall.SIGTERM)
}

// Kill sends a SIGKILL signal to the whole process group
func (c *Cmd) Kill() error {
	return c.signalGroup(syscall.SIGKILL)
}

func (c *Cmd) signalGroup(sig syscall.Signal) error {
	if c.Process == nil {
		return errors.New("process not started")
	}
	err := syscall.Kill(-c.Process.Pid, sig)
	if err == syscall.ESRCH {
		// group already gone
		return nil
	}
	return errors.Wrapf(err, "failed to send signal %v to process group %d", sig, c.Process.Pid)
}
