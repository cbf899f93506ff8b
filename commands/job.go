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

package commands

import (
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/allocation"
	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/container"
	"github.com/ystia/hpclaunch/helper/sshutil"
	"github.com/ystia/hpclaunch/jobfile"
	"github.com/ystia/hpclaunch/launch"
	"github.com/ystia/hpclaunch/log"
)

// job is the outcome of merging the command line, the job file and the scheduler allocation
type job struct {
	spec      launch.JobSpec
	timeout   time.Duration
	container config.Container
	envFile   string
	modules   []string
}

// resolveJob builds the job to launch.
//
// A flag explicitly set on the command line overrides the job file. A value of the job file overrides
// environment variables and the configuration file. Remaining unset values come from the allocation.
func resolveJob(cfg config.Configuration, args []string, changed func(string) bool, env allocation.Environment, now time.Time) (*job, error) {
	file := new(jobfile.File)
	if cfg.JobFile != "" {
		var err error
		file, err = jobfile.Load(cfg.JobFile)
		if err != nil {
			return nil, err
		}
	}
	alloc, err := allocation.Detect(env)
	if err != nil {
		return nil, err
	}
	if alloc != nil {
		log.Debugf("Running in %s job %q with %d nodes", alloc.Scheduler, alloc.JobID, alloc.NodeCount())
	}

	spec := file.JobSpec()
	if len(args) > 0 {
		spec.Command = append([]string(nil), args...)
	}
	spec.Name = pickString(changed("job_name"), cfg.JobName, spec.Name)
	spec.WorkingDirectory = pickString(changed("working_directory"), cfg.WorkingDirectory, spec.WorkingDirectory)
	spec.NodeCount = pickInt(changed("node_count"), cfg.NodeCount, spec.NodeCount)
	spec.ProcessesPerNode = pickInt(changed("processes_per_node"), cfg.ProcessesPerNode, spec.ProcessesPerNode)
	spec.Hosts = pickSlice(changed("hosts"), cfg.Hosts, spec.Hosts)
	spec.NetworkInterfaces = pickSlice(changed("network_interfaces"), cfg.NetworkInterfaces, spec.NetworkInterfaces)
	spec.MasterAddr = pickString(changed("master_addr"), cfg.MasterAddr, spec.MasterAddr)
	spec.MasterPort = pickInt(changed("master_port"), cfg.MasterPort, spec.MasterPort)
	spec.Environment = mergeEnvironment(changed("environment"), cfg.Environment, spec.Environment)
	if spec.WorkingDirectory == "" {
		if spec.WorkingDirectory, err = os.Getwd(); err != nil {
			return nil, errors.Wrap(err, "failed to get current directory")
		}
	}

	if alloc != nil {
		if spec.NodeCount == 0 {
			spec.NodeCount = alloc.NodeCount()
		}
		if spec.ProcessesPerNode == 0 {
			spec.ProcessesPerNode = alloc.ProcessesPerNode
		}
		if len(spec.Hosts) == 0 && alloc.NodeCount() > 0 {
			if spec.NodeCount > alloc.NodeCount() {
				return nil, errors.WithStack(&launch.InvalidTopologyError{
					Reason: "job requests more nodes than the allocation provides",
				})
			}
			spec.Hosts = append([]string(nil), alloc.Hosts[:spec.NodeCount]...)
		}
	}
	if spec.NodeCount == 0 {
		spec.NodeCount = 1
	}
	if spec.ProcessesPerNode == 0 {
		spec.ProcessesPerNode = 1
	}

	j := &job{spec: spec, container: cfg.Container}
	fileTimeout, _ := file.TimeoutDuration()
	j.timeout = pickDuration(changed("timeout"), cfg.Timeout, fileTimeout)
	budget := cfg.Elapsed
	if budget == 0 && alloc != nil {
		budget = alloc.Remaining(now)
		if budget < 0 {
			return nil, errors.Errorf("%s job %q already reached its end time", alloc.Scheduler, alloc.JobID)
		}
	}
	j.timeout = effectiveTimeout(j.timeout, budget, cfg.WalltimeMargin)

	if file.Container != nil && !changed("container_runtime") && !changed("container_image") {
		j.container = config.Container{
			Runtime:   file.Container.Runtime,
			Image:     file.Container.Image,
			Binds:     file.Container.Binds,
			GPU:       file.Container.GPU,
			ShmSize:   file.Container.ShmSize,
			ExtraArgs: file.Container.ExtraArgs,
		}
	}
	j.envFile = pickString(changed("env_file"), cfg.EnvFile, file.EnvFile)
	j.modules = pickSlice(changed("modules"), cfg.Modules, file.Modules)
	return j, nil
}

// effectiveTimeout bounds the job timeout by the allocation budget minus the termination margin.
//
// A zero timeout or budget means no limit. If the budget is smaller than the margin, the whole budget is used.
func effectiveTimeout(timeout, budget, margin time.Duration) time.Duration {
	if budget <= 0 {
		return timeout
	}
	limit := budget - margin
	if limit <= 0 {
		log.Warnf("Allocation budget %s is shorter than the walltime margin %s, workers may be killed by the scheduler", budget, margin)
		limit = budget
	}
	if timeout == 0 || limit < timeout {
		return limit
	}
	return timeout
}

func pickString(flagSet bool, cfgValue, fileValue string) string {
	if flagSet || fileValue == "" {
		return cfgValue
	}
	return fileValue
}

func pickInt(flagSet bool, cfgValue, fileValue int) int {
	if flagSet || fileValue == 0 {
		return cfgValue
	}
	return fileValue
}

func pickDuration(flagSet bool, cfgValue, fileValue time.Duration) time.Duration {
	if flagSet || fileValue == 0 {
		return cfgValue
	}
	return fileValue
}

func pickSlice(flagSet bool, cfgValue, fileValue []string) []string {
	if flagSet || len(fileValue) == 0 {
		return cfgValue
	}
	return fileValue
}

func mergeEnvironment(flagSet bool, cfgEnv, fileEnv map[string]string) map[string]string {
	low, high := cfgEnv, fileEnv
	if flagSet {
		low, high = fileEnv, cfgEnv
	}
	env := make(map[string]string, len(cfgEnv)+len(fileEnv))
	for k, v := range low {
		env[k] = v
	}
	for k, v := range high {
		env[k] = v
	}
	return env
}

// newCoordinator configures a coordinator for the given job
func newCoordinator(cfg config.Configuration, j *job) (*launch.Coordinator, error) {
	c := launch.NewCoordinator()
	if cfg.TerminationGracePeriod > 0 {
		c.TerminationGracePeriod = cfg.TerminationGracePeriod
	}
	c.WaitMasterTimeout = cfg.WaitMasterTimeout
	c.TagOutput = cfg.TagOutput

	rt, err := container.New(j.container)
	if err != nil {
		return nil, err
	}
	if rt != nil {
		log.Debugf("Running workers in container: %s", rt)
		c.Wrappers = append(c.Wrappers, rt)
	}
	if j.envFile != "" || len(j.modules) > 0 {
		envFile, err := homedir.Expand(j.envFile)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid env file %q", j.envFile)
		}
		c.Wrappers = append(c.Wrappers, launch.Preamble{EnvFile: envFile, Modules: j.modules})
	}

	switch cfg.Launcher {
	case config.LauncherLocal, "":
	case config.LauncherSSH:
		user := cfg.SSH.User
		if user == "" {
			user = os.Getenv("USER")
		}
		sshConfig, err := sshutil.NewClientConfig(user, cfg.SSH.PrivateKey, cfg.SSH.KnownHostsFile)
		if err != nil {
			return nil, err
		}
		c.RemoteSpawner = &launch.SSHSpawner{Config: sshConfig, Port: cfg.SSH.Port}
	default:
		return nil, errors.Errorf("unsupported launcher %q, expecting %q or %q", cfg.Launcher, config.LauncherLocal, config.LauncherSSH)
	}
	return c, nil
}
