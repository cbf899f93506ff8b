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
	"fmt"
	"io"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Job is a launched distributed job.
//
// The state of its workers is updated by the Coordinator only, Workers returns snapshots.
type Job struct {
	ID        string
	Spec      JobSpec
	Topology  ResolvedTopology
	StartTime time.Time

	lock    sync.Mutex
	workers []*worker
	exits   chan workerExit
	outputs []io.Closer
	cancel  context.CancelFunc
	procCtx context.Context
	result  *JobResult
}

type worker struct {
	handle  WorkerHandle
	process Process
	reaped  bool
}

type workerExit struct {
	rank int
	code int
	err  error
}

func newJob(spec JobSpec, topo ResolvedTopology) *Job {
	procCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        fmt.Sprint(uuid.NewV4()),
		Spec:      spec,
		Topology:  topo,
		StartTime: time.Now(),
		workers:   make([]*worker, len(topo.Placements)),
		exits:     make(chan workerExit, len(topo.Placements)),
		cancel:    cancel,
		procCtx:   procCtx,
	}
	for i, p := range topo.Placements {
		job.workers[i] = &worker{handle: WorkerHandle{
			Rank:      p.Rank,
			NodeRank:  p.NodeRank,
			LocalRank: p.LocalRank,
			Host:      p.Host,
			State:     WorkerPending,
			ExitCode:  -1,
		}}
	}
	return job
}

// Workers returns a snapshot of the workers handles ordered by rank
func (j *Job) Workers() []WorkerHandle {
	j.lock.Lock()
	defer j.lock.Unlock()
	res := make([]WorkerHandle, len(j.workers))
	for i, w := range j.workers {
		res[i] = w.handle
	}
	return res
}

// Result returns the result of the job or nil if the job is not finished yet
func (j *Job) Result() *JobResult {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.result
}

func (j *Job) setRunning(rank int, p Process) {
	j.lock.Lock()
	defer j.lock.Unlock()
	w := j.workers[rank]
	w.process = p
	w.handle.ProcessID = p.Pid()
	w.handle.State = WorkerRunning
}

func (j *Job) addOutput(c io.Closer) {
	j.lock.Lock()
	defer j.lock.Unlock()
	j.outputs = append(j.outputs, c)
}

// recordExit stores the exit status of a reaped worker.
//
// Workers already marked as failed by the coordinator keep their state and reason.
func (j *Job) recordExit(e workerExit) WorkerHandle {
	j.lock.Lock()
	defer j.lock.Unlock()
	w := j.workers[e.rank]
	w.reaped = true
	if e.err == nil {
		w.handle.ExitCode = e.code
	}
	if w.handle.State == WorkerRunning {
		if e.err != nil {
			w.handle.State = WorkerFailed
			w.handle.Reason = ReasonWaitError
		} else {
			w.handle.State = WorkerExited
		}
	}
	return w.handle
}

// failPending marks workers that were never started as failed
func (j *Job) failPending(reason FailureReason) {
	j.lock.Lock()
	defer j.lock.Unlock()
	for _, w := range j.workers {
		if w.handle.State == WorkerPending {
			w.handle.State = WorkerFailed
			w.handle.Reason = reason
		}
	}
}

// failRunning marks running workers as failed and returns the processes not reaped yet
func (j *Job) failRunning(reason FailureReason) []Process {
	j.lock.Lock()
	defer j.lock.Unlock()
	for _, w := range j.workers {
		if w.handle.State == WorkerRunning {
			w.handle.State = WorkerFailed
			w.handle.Reason = reason
		}
	}
	return j.unreapedProcesses()
}

func (j *Job) unreapedProcesses() []Process {
	var res []Process
	for _, w := range j.workers {
		if w.process != nil && !w.reaped {
			res = append(res, w.process)
		}
	}
	return res
}

func (j *Job) unreaped() []Process {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.unreapedProcesses()
}

func (j *Job) unreapedCount() int {
	return len(j.unreaped())
}

// finish releases the job resources and stores its result
func (j *Job) finish(reason FailureReason) *JobResult {
	j.cancel()
	j.lock.Lock()
	defer j.lock.Unlock()
	for _, o := range j.outputs {
		o.Close()
	}
	j.outputs = nil
	workers := make([]WorkerHandle, len(j.workers))
	for i, w := range j.workers {
		workers[i] = w.handle
	}
	j.result = newJobResult(j, workers, reason, time.Now())
	return j.result
}
