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

// Package container wraps worker commands into container runtimes invocations.
//
// Container runtimes are used as opaque process launchers, images are never inspected.
package container

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/helper/sizeutil"
	"github.com/ystia/hpclaunch/log"
)

const (
	// RuntimeSingularity is the Singularity container runtime
	RuntimeSingularity = "singularity"
	// RuntimeApptainer is the Apptainer container runtime, the Linux Foundation fork of Singularity
	RuntimeApptainer = "apptainer"
	// RuntimeDocker is the Docker container runtime
	RuntimeDocker = "docker"
)

// A Runtime runs worker commands inside a container image
type Runtime struct {
	Name      string
	Image     string
	Binds     []string
	GPU       bool
	ShmSize   uint64
	ExtraArgs []string
}

// New returns the container runtime described by the given configuration.
//
// It returns nil and no error if no runtime is configured.
func New(cfg config.Container) (*Runtime, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Runtime))
	if name == "" {
		if cfg.Image != "" {
			return nil, errors.Errorf("container image %q set without container runtime", cfg.Image)
		}
		return nil, nil
	}
	switch name {
	case RuntimeSingularity, RuntimeApptainer, RuntimeDocker:
	default:
		return nil, errors.Errorf("unsupported container runtime %q, expecting one of %s, %s or %s",
			cfg.Runtime, RuntimeSingularity, RuntimeApptainer, RuntimeDocker)
	}
	if cfg.Image == "" {
		return nil, errors.Errorf("missing container image for runtime %q", name)
	}
	r := &Runtime{
		Name:      name,
		Image:     cfg.Image,
		Binds:     cfg.Binds,
		GPU:       cfg.GPU,
		ExtraArgs: cfg.ExtraArgs,
	}
	if cfg.ShmSize != "" {
		size, err := sizeutil.ConvertToBytes(cfg.ShmSize)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid container shared memory size %q", cfg.ShmSize)
		}
		r.ShmSize = size
	}
	return r, nil
}

// ParseExtraArgs splits a command line fragment of additional runtime arguments
func ParseExtraArgs(args string) ([]string, error) {
	res, err := shellquote.Split(args)
	return res, errors.Wrapf(err, "invalid container arguments %q", args)
}

// WrapCommand implements the launch.CommandWrapper interface
func (r *Runtime) WrapCommand(command []string, workingDirectory string, env map[string]string) ([]string, error) {
	if len(command) == 0 {
		return nil, errors.New("empty command")
	}
	switch r.Name {
	case RuntimeDocker:
		return r.dockerCommand(command, workingDirectory, env), nil
	default:
		return r.singularityCommand(command, workingDirectory), nil
	}
}

func (r *Runtime) singularityCommand(command []string, workingDirectory string) []string {
	cmd := []string{r.Name, "exec"}
	if r.GPU {
		cmd = append(cmd, "--nv")
	}
	for _, b := range r.Binds {
		cmd = append(cmd, "--bind", b)
	}
	if workingDirectory != "" {
		cmd = append(cmd, "--pwd", workingDirectory)
	}
	if r.ShmSize != 0 {
		log.Debugf("shared memory size is not supported by %s, ignoring it", r.Name)
	}
	cmd = append(cmd, r.ExtraArgs...)
	cmd = append(cmd, r.Image)
	return append(cmd, command...)
}

// ContainerName returns the name of the docker container running the given rank of a job,
// an empty string if the job or the rank is unknown
func ContainerName(jobID, rank string) string {
	if jobID == "" || rank == "" {
		return ""
	}
	return "hpclaunch-" + jobID + "-" + rank
}

// dockerCommand runs the worker behind an init process so signals forwarded by the docker client
// reach it. Containers are named after their job and rank to find them back if the client is killed.
func (r *Runtime) dockerCommand(command []string, workingDirectory string, env map[string]string) []string {
	cmd := []string{"docker", "run", "--rm", "--init", "--network", "host", "--ipc", "host"}
	if name := ContainerName(env["HPCLAUNCH_JOB_ID"], env["RANK"]); name != "" {
		cmd = append(cmd, "--name", name)
	}
	if r.GPU {
		cmd = append(cmd, "--gpus", "all")
	}
	if r.ShmSize != 0 {
		cmd = append(cmd, "--shm-size", strconv.FormatUint(r.ShmSize, 10))
	}
	for _, b := range r.Binds {
		cmd = append(cmd, "-v", b)
	}
	// Values are taken from the docker client environment
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd = append(cmd, "-e", k)
	}
	if workingDirectory != "" {
		cmd = append(cmd, "-w", workingDirectory)
	}
	cmd = append(cmd, r.ExtraArgs...)
	cmd = append(cmd, r.Image)
	return append(cmd, command...)
}

// String returns the runtime invocation prefix as a shell command line
func (r *Runtime) String() string {
	cmd, _ := r.WrapCommand([]string{"..."}, "", nil)
	return shellquote.Join(cmd[:len(cmd)-1]...)
}
