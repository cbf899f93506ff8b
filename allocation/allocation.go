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

// Package allocation discovers the resources granted by the batch scheduler running hpclaunch.
package allocation

import (
	"io/ioutil"
	"os"
	"time"
)

const (
	// SchedulerSlurm is the name of the Slurm workload manager
	SchedulerSlurm = "slurm"
	// SchedulerPBS is the name of PBS and Torque schedulers
	SchedulerPBS = "pbs"
	// SchedulerGridEngine is the name of Grid Engine schedulers
	SchedulerGridEngine = "sge"
)

// An Allocation is the set of nodes and the time budget granted to the job
type Allocation struct {
	Scheduler string
	JobID     string
	// Hosts lists one host per allocated node
	Hosts []string
	// ProcessesPerNode is the number of tasks per node requested to the scheduler, 0 if unknown
	ProcessesPerNode int
	// EndTime is the time at which the scheduler will kill the job, zero if unknown
	EndTime time.Time
}

// NodeCount returns the number of allocated nodes
func (a *Allocation) NodeCount() int {
	return len(a.Hosts)
}

// Remaining returns the time left before the end of the allocation, 0 if the end time is unknown.
//
// A negative duration means the allocation already expired.
func (a *Allocation) Remaining(now time.Time) time.Duration {
	if a.EndTime.IsZero() {
		return 0
	}
	return a.EndTime.Sub(now)
}

// Environment gives access to the job environment
type Environment struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
}

// HostEnvironment is the environment of the current process
var HostEnvironment = Environment{
	Getenv:   os.Getenv,
	ReadFile: ioutil.ReadFile,
}

type detector func(env Environment) (*Allocation, error)

var detectors = []detector{detectSlurm, detectPBS, detectGridEngine}

// Detect returns the allocation of the batch scheduler job in which hpclaunch runs.
//
// It returns nil and no error if hpclaunch does not run in a batch scheduler job.
func Detect(env Environment) (*Allocation, error) {
	for _, d := range detectors {
		a, err := d(env)
		if err != nil || a != nil {
			return a, err
		}
	}
	return nil, nil
}
