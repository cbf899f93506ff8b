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

package report

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/hpclaunch/launch"
)

func testResult(status launch.AggregateStatus, reason launch.FailureReason, workers ...launch.WorkerHandle) *launch.JobResult {
	start := time.Now().Add(-time.Minute)
	return &launch.JobResult{
		JobID:     "5f6e7a28-3c9d-4d0e-9b7b-2f1b0c1d2e3f",
		JobName:   "resnet",
		Workers:   workers,
		Status:    status,
		Reason:    reason,
		StartTime: start,
		EndTime:   start.Add(90 * time.Second),
		Duration:  90 * time.Second,
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		result *launch.JobResult
		err    error
		want   int
	}{
		{"Success", testResult(launch.StatusSuccess, launch.ReasonNone), nil, ExitSuccess},
		{"PartialFailure", testResult(launch.StatusPartialFailure, launch.ReasonNone), nil, ExitPartialFailure},
		{"TotalFailure", testResult(launch.StatusTotalFailure, launch.ReasonNone), nil, ExitTotalFailure},
		{"Timeout", testResult(launch.StatusPartialFailure, launch.ReasonTimeout), nil, ExitTimeout},
		{"Cancelled", testResult(launch.StatusTotalFailure, launch.ReasonCancelled), nil, ExitCancelled},
		{"InvalidTopology", nil, errors.WithStack(&launch.InvalidTopologyError{Reason: "node count must be positive"}), ExitInvalidConfig},
		{"InterfaceUnavailable", nil, &launch.InterfaceUnavailableError{Interface: "ib0"}, ExitInvalidConfig},
		{"SpawnError", testResult(launch.StatusTotalFailure, launch.ReasonAborted), errors.WithStack(&launch.SpawnError{Rank: 2}), ExitSpawnError},
		{"CancelledLaunch", testResult(launch.StatusTotalFailure, launch.ReasonCancelled), errors.Wrap(launch.ErrCancelled, "interrupted"), ExitCancelled},
		{"NoResult", nil, nil, ExitTotalFailure},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.result, tt.err))
		})
	}
}

func TestNewDocument(t *testing.T) {
	t.Parallel()
	result := testResult(launch.StatusPartialFailure, launch.ReasonTimeout,
		launch.WorkerHandle{Rank: 0, Host: "node0", ProcessID: 42, State: launch.WorkerExited, ExitCode: 0},
		launch.WorkerHandle{Rank: 1, NodeRank: 1, Host: "node1", State: launch.WorkerFailed, ExitCode: 143, Reason: launch.ReasonTimeout},
	)
	doc := NewDocument(result, nil)
	assert.Equal(t, "PartialFailure", doc.Status)
	assert.Equal(t, "Timeout", doc.Reason)
	assert.Equal(t, ExitTimeout, doc.ExitCode)
	assert.Equal(t, "1m30s", doc.Duration)
	assert.Contains(t, doc.Error, "job timed out")
	require.Len(t, doc.Workers, 2)
	assert.Equal(t, Worker{Rank: 0, Host: "node0", PID: 42, State: "Exited"}, doc.Workers[0])
	assert.Equal(t, Worker{Rank: 1, NodeRank: 1, Host: "node1", State: "Failed", ExitCode: 143, Reason: "Timeout"}, doc.Workers[1])
}

func TestNewDocumentWithoutResult(t *testing.T) {
	t.Parallel()
	doc := NewDocument(nil, &launch.InvalidTopologyError{Reason: "command is empty"})
	assert.Equal(t, "TotalFailure", doc.Status)
	assert.Equal(t, ExitInvalidConfig, doc.ExitCode)
	assert.Equal(t, "invalid topology: command is empty", doc.Error)
	assert.Empty(t, doc.Workers)
}

func TestPrint(t *testing.T) {
	t.Parallel()
	result := testResult(launch.StatusPartialFailure, launch.ReasonNone,
		launch.WorkerHandle{Rank: 0, Host: "node0", ProcessID: 4242, State: launch.WorkerExited, ExitCode: 0},
		launch.WorkerHandle{Rank: 1, LocalRank: 1, Host: "node0", State: launch.WorkerFailed, ExitCode: -1, Reason: launch.ReasonWaitError},
	)
	buf := &bytes.Buffer{}
	require.NoError(t, Print(buf, NewDocument(result, nil), false))
	out := buf.String()
	assert.Contains(t, out, `Job "resnet" (5f6e7a28-3c9d-4d0e-9b7b-2f1b0c1d2e3f) started`)
	assert.Contains(t, out, "ran for 1m30s")
	assert.Contains(t, out, "Status: PartialFailure\n")
	assert.Contains(t, out, "Error: rank 1 failed: WaitError (exit code -1)\n")
	assert.NotContains(t, out, "error occurred")
	assert.Contains(t, out, "Exit Code")
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, "Failed(WaitError)")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrintColorized(t *testing.T) {
	t.Parallel()
	buf := &bytes.Buffer{}
	doc := NewDocument(testResult(launch.StatusSuccess, launch.ReasonNone,
		launch.WorkerHandle{Rank: 0, Host: "node0", State: launch.WorkerExited}), nil)
	require.NoError(t, Print(buf, doc, true))
	assert.Contains(t, buf.String(), "Success")
	assert.Contains(t, buf.String(), "Exited")
}

func TestWriteFile(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "report")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	doc := NewDocument(testResult(launch.StatusSuccess, launch.ReasonNone,
		launch.WorkerHandle{Rank: 0, Host: "node0", State: launch.WorkerExited}), nil)
	p := filepath.Join(dir, "result.json")
	require.NoError(t, WriteFile(p, doc))

	content, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(content, &raw))
	assert.Equal(t, "Success", raw["status"])
	assert.Equal(t, float64(0), raw["exit_code"])
	assert.Equal(t, "resnet", raw["job_name"])
	_, hasReason := raw["reason"]
	assert.False(t, hasReason)

	require.Error(t, WriteFile(filepath.Join(dir, "missing", "result.json"), doc))
}

type mockKV struct {
	pairs map[string]string
	err   error
}

func (m *mockKV) Put(p *api.KVPair, q *api.WriteOptions) (*api.WriteMeta, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.pairs[p.Key] = string(p.Value)
	return &api.WriteMeta{}, nil
}

func TestConsulPublisher(t *testing.T) {
	t.Parallel()
	kv := &mockKV{pairs: make(map[string]string)}
	p := &ConsulPublisher{kv: kv, prefix: "hpclaunch/jobs"}
	doc := NewDocument(testResult(launch.StatusPartialFailure, launch.ReasonNone,
		launch.WorkerHandle{Rank: 0, State: launch.WorkerExited},
		launch.WorkerHandle{Rank: 1, State: launch.WorkerFailed, Reason: launch.ReasonWaitError, ExitCode: -1},
	), nil)
	require.NoError(t, p.Publish(doc))

	prefix := "hpclaunch/jobs/5f6e7a28-3c9d-4d0e-9b7b-2f1b0c1d2e3f/"
	assert.Equal(t, "PartialFailure", kv.pairs[prefix+"status"])
	assert.Equal(t, "1", kv.pairs[prefix+"exit_code"])
	assert.Equal(t, "Exited", kv.pairs[prefix+"workers/0"])
	assert.Equal(t, "Failed(WaitError)", kv.pairs[prefix+"workers/1"])

	var stored Document
	require.NoError(t, json.Unmarshal([]byte(kv.pairs[prefix+"result"]), &stored))
	assert.Equal(t, doc.JobID, stored.JobID)
	assert.Len(t, stored.Workers, 2)
}

func TestConsulPublisherErrors(t *testing.T) {
	t.Parallel()
	p := &ConsulPublisher{kv: &mockKV{err: errors.New("connection refused")}, prefix: "jobs"}
	err := p.Publish(Document{JobID: "id", Status: "Success"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	require.Error(t, p.Publish(Document{Status: "TotalFailure"}))
}
