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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exited(rank, code int) WorkerHandle {
	return WorkerHandle{Rank: rank, State: WorkerExited, ExitCode: code}
}

func failed(rank int, reason FailureReason) WorkerHandle {
	return WorkerHandle{Rank: rank, State: WorkerFailed, ExitCode: -1, Reason: reason}
}

func TestAggregateStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		workers []WorkerHandle
		want    AggregateStatus
	}{
		{"AllSuccess", []WorkerHandle{exited(0, 0), exited(1, 0)}, StatusSuccess},
		{"OneNonZero", []WorkerHandle{exited(0, 0), exited(1, 2)}, StatusPartialFailure},
		{"OneFailed", []WorkerHandle{exited(0, 0), failed(1, ReasonTimeout)}, StatusPartialFailure},
		{"AllNonZero", []WorkerHandle{exited(0, 1), exited(1, 139)}, StatusTotalFailure},
		{"AllFailed", []WorkerHandle{failed(0, ReasonTimeout), failed(1, ReasonWaitError)}, StatusTotalFailure},
		{"Single", []WorkerHandle{exited(0, 0)}, StatusSuccess},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, aggregateStatus(tt.workers))
		})
	}
}

func TestNewJobResultCancelledIsTotalFailure(t *testing.T) {
	t.Parallel()
	job := newJob(testSpec(1, 2), ResolvedTopology{Placements: make([]Placement, 2)})
	r := newJobResult(job, []WorkerHandle{exited(1, 0), exited(0, 0)}, ReasonCancelled, job.StartTime.Add(time.Second))
	assert.Equal(t, StatusTotalFailure, r.Status)
	assert.Equal(t, time.Second, r.Duration)
	assert.Equal(t, 0, r.Workers[0].Rank)
	assert.Equal(t, 1, r.Workers[1].Rank)
}

func TestNewJobResultPanicsOnRunningWorkers(t *testing.T) {
	t.Parallel()
	job := newJob(testSpec(1, 1), ResolvedTopology{Placements: make([]Placement, 1)})
	require.Panics(t, func() {
		newJobResult(job, []WorkerHandle{{State: WorkerRunning}}, ReasonNone, time.Now())
	})
}

func TestWorkerHandleStatus(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Pending", WorkerHandle{}.Status())
	assert.Equal(t, "Running", WorkerHandle{State: WorkerRunning}.Status())
	assert.Equal(t, "Exited(3)", exited(0, 3).Status())
	assert.Equal(t, "Failed(Cancelled)", failed(0, ReasonCancelled).Status())
	assert.Equal(t, "Failed(WaitError)", failed(0, ReasonWaitError).Status())
}

func TestJobSpecCopy(t *testing.T) {
	t.Parallel()
	s := JobSpec{Command: []string{"a"}, Hosts: []string{"h"}, NetworkInterfaces: []string{"ib0"}, Environment: map[string]string{"K": "V"}}
	c := s.Copy()
	c.Command[0] = "b"
	c.Hosts[0] = "x"
	c.NetworkInterfaces[0] = "eth0"
	c.Environment["K"] = "W"
	assert.Equal(t, "a", s.Command[0])
	assert.Equal(t, "h", s.Hosts[0])
	assert.Equal(t, "ib0", s.NetworkInterfaces[0])
	assert.Equal(t, "V", s.Environment["K"])
}

func TestJobResultErr(t *testing.T) {
	t.Parallel()
	r := &JobResult{Workers: []WorkerHandle{exited(0, 0), exited(1, 0)}}
	require.NoError(t, r.Err())

	r = &JobResult{Reason: ReasonTimeout, Workers: []WorkerHandle{exited(0, 0), failed(1, ReasonTimeout)}}
	err := r.Err()
	require.Error(t, err)
	assert.Equal(t, "job timed out; rank 1 failed: Timeout (exit code -1)", err.Error())
}
