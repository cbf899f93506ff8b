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
	"sort"
	"time"
)

// JobSpec describes a distributed job: how many workers to run, where and how.
type JobSpec struct {
	Name              string
	NodeCount         int
	ProcessesPerNode  int
	Command           []string
	WorkingDirectory  string
	Environment       map[string]string
	NetworkInterfaces []string
	// Hosts lists one host per node. An empty list means every node is the local host.
	Hosts []string
	// MasterAddr overrides the coordination address computed from the topology
	MasterAddr string
	// MasterPort is the coordination port, 0 means DefaultMasterPort
	MasterPort int
}

// WorldSize returns the total number of workers of the job
func (s JobSpec) WorldSize() int {
	return s.NodeCount * s.ProcessesPerNode
}

// Copy returns a deep copy of the job description
func (s JobSpec) Copy() JobSpec {
	c := s
	c.Command = append([]string(nil), s.Command...)
	c.NetworkInterfaces = append([]string(nil), s.NetworkInterfaces...)
	c.Hosts = append([]string(nil), s.Hosts...)
	if s.Environment != nil {
		c.Environment = make(map[string]string, len(s.Environment))
		for k, v := range s.Environment {
			c.Environment[k] = v
		}
	}
	return c
}

// Placement is the location of a rank in the topology
type Placement struct {
	Rank      int
	NodeRank  int
	LocalRank int
	Host      string
}

// ResolvedTopology is a validated job shape with one placement per rank
type ResolvedTopology struct {
	NodeCount        int
	ProcessesPerNode int
	WorldSize        int
	Hosts            []string
	MasterAddr       string
	MasterPort       int
	Interfaces       []string
	Placements       []Placement
}

// WorkerState is the lifecycle state of a worker
type WorkerState int

const (
	// WorkerPending is the state of a worker not started yet
	WorkerPending WorkerState = iota
	// WorkerRunning is the state of a started worker
	WorkerRunning
	// WorkerExited is the terminal state of a worker that exited on its own
	WorkerExited
	// WorkerFailed is the terminal state of a worker stopped by the coordinator or that could not be waited
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerPending:
		return "Pending"
	case WorkerRunning:
		return "Running"
	case WorkerExited:
		return "Exited"
	case WorkerFailed:
		return "Failed"
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// IsTerminal returns true for Exited and Failed states
func (s WorkerState) IsTerminal() bool {
	return s == WorkerExited || s == WorkerFailed
}

// FailureReason explains why a worker or a job failed
type FailureReason int

const (
	// ReasonNone means no failure reason applies
	ReasonNone FailureReason = iota
	// ReasonTimeout is used when the job ran out of time
	ReasonTimeout
	// ReasonCancelled is used when the job was cancelled
	ReasonCancelled
	// ReasonAborted is used when the launch of the job was aborted
	ReasonAborted
	// ReasonWaitError is used when the exit status of a worker could not be retrieved
	ReasonWaitError
)

func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonTimeout:
		return "Timeout"
	case ReasonCancelled:
		return "Cancelled"
	case ReasonAborted:
		return "Aborted"
	case ReasonWaitError:
		return "WaitError"
	}
	return fmt.Sprintf("FailureReason(%d)", int(r))
}

// WorkerHandle is a snapshot of the state of one worker
type WorkerHandle struct {
	Rank      int
	NodeRank  int
	LocalRank int
	Host      string
	ProcessID int
	State     WorkerState
	// ExitCode is the exit code of the worker process, -1 if unknown
	ExitCode int
	Reason   FailureReason
}

// Status returns a human readable form of the state, like "Exited(0)" or "Failed(Timeout)"
func (h WorkerHandle) Status() string {
	switch h.State {
	case WorkerExited:
		return fmt.Sprintf("%s(%d)", h.State, h.ExitCode)
	case WorkerFailed:
		return fmt.Sprintf("%s(%s)", h.State, h.Reason)
	}
	return h.State.String()
}

// Succeeded returns true if the worker exited with a 0 exit code
func (h WorkerHandle) Succeeded() bool {
	return h.State == WorkerExited && h.ExitCode == 0
}

// AggregateStatus is the job level outcome
type AggregateStatus int

const (
	// StatusSuccess means every worker exited with a 0 exit code
	StatusSuccess AggregateStatus = iota
	// StatusPartialFailure means some but not all workers failed
	StatusPartialFailure
	// StatusTotalFailure means every worker failed
	StatusTotalFailure
)

func (s AggregateStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusPartialFailure:
		return "PartialFailure"
	case StatusTotalFailure:
		return "TotalFailure"
	}
	return fmt.Sprintf("AggregateStatus(%d)", int(s))
}

// JobResult is the outcome of a job once every worker reached a terminal state.
//
// It is built by the Coordinator only and should not be modified.
type JobResult struct {
	JobID     string
	JobName   string
	Workers   []WorkerHandle
	Status    AggregateStatus
	Reason    FailureReason
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

func aggregateStatus(workers []WorkerHandle) AggregateStatus {
	var failed int
	for _, w := range workers {
		if !w.Succeeded() {
			failed++
		}
	}
	switch failed {
	case 0:
		return StatusSuccess
	case len(workers):
		return StatusTotalFailure
	default:
		return StatusPartialFailure
	}
}

func newJobResult(job *Job, workers []WorkerHandle, reason FailureReason, end time.Time) *JobResult {
	sort.Slice(workers, func(i, j int) bool { return workers[i].Rank < workers[j].Rank })
	for _, w := range workers {
		if !w.State.IsTerminal() {
			panic(fmt.Sprintf("job %q: rank %d is not in a terminal state (%s)", job.ID, w.Rank, w.State))
		}
	}
	r := &JobResult{
		JobID:     job.ID,
		JobName:   job.Spec.Name,
		Workers:   workers,
		Status:    aggregateStatus(workers),
		Reason:    reason,
		StartTime: job.StartTime,
		EndTime:   end,
		Duration:  end.Sub(job.StartTime),
	}
	if reason == ReasonCancelled {
		r.Status = StatusTotalFailure
	}
	return r
}
