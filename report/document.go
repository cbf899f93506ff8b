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

// Package report renders and publishes job results.
package report

import (
	"time"

	"github.com/ystia/hpclaunch/launch"
)

// Document is the serializable form of a job outcome
type Document struct {
	JobID     string    `json:"job_id,omitempty"`
	JobName   string    `json:"job_name,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Workers   []Worker  `json:"workers,omitempty"`
}

// Worker is the serializable form of a worker outcome
type Worker struct {
	Rank      int    `json:"rank"`
	NodeRank  int    `json:"node_rank"`
	LocalRank int    `json:"local_rank"`
	Host      string `json:"host"`
	PID       int    `json:"pid,omitempty"`
	State     string `json:"state"`
	ExitCode  int    `json:"exit_code"`
	Reason    string `json:"reason,omitempty"`
}

// NewDocument builds a document from the outcome of launch.Coordinator.Run
//
// result may be nil if the job could not be launched at all.
func NewDocument(result *launch.JobResult, err error) Document {
	doc := Document{ExitCode: ExitCode(result, err)}
	if err != nil {
		doc.Error = err.Error()
	}
	if result == nil {
		doc.Status = launch.StatusTotalFailure.String()
		return doc
	}
	doc.JobID = result.JobID
	doc.JobName = result.JobName
	doc.Status = result.Status.String()
	doc.Reason = result.Reason.String()
	doc.StartTime = result.StartTime
	doc.EndTime = result.EndTime
	doc.Duration = result.Duration.String()
	if err == nil {
		if jobErr := result.Err(); jobErr != nil {
			doc.Error = jobErr.Error()
		}
	}
	doc.Workers = make([]Worker, len(result.Workers))
	for i, w := range result.Workers {
		doc.Workers[i] = Worker{
			Rank:      w.Rank,
			NodeRank:  w.NodeRank,
			LocalRank: w.LocalRank,
			Host:      w.Host,
			PID:       w.ProcessID,
			State:     w.State.String(),
			ExitCode:  w.ExitCode,
			Reason:    w.Reason.String(),
		}
	}
	return doc
}
