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
	"encoding/json"
	"path"
	"strconv"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/log"
)

type kvPutter interface {
	Put(p *api.KVPair, q *api.WriteOptions) (*api.WriteMeta, error)
}

// A ConsulPublisher stores job results in the Consul KV store
type ConsulPublisher struct {
	kv     kvPutter
	prefix string
}

// NewConsulPublisher returns a publisher storing results under the given KV prefix
func NewConsulPublisher(client *api.Client, prefix string) *ConsulPublisher {
	return &ConsulPublisher{kv: client.KV(), prefix: prefix}
}

// Publish stores the document under <prefix>/<job id>.
//
// The whole document is stored as JSON in the "result" key, the status, exit code and per rank state
// are also stored as plain values so they can be watched individually.
func (p *ConsulPublisher) Publish(doc Document) error {
	if doc.JobID == "" {
		return errors.New("can't publish the result of a job without ID")
	}
	jobPath := path.Join(p.prefix, doc.JobID)
	content, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to serialize job result")
	}
	pairs := []*api.KVPair{
		{Key: path.Join(jobPath, "result"), Value: content},
		{Key: path.Join(jobPath, "status"), Value: []byte(doc.Status)},
		{Key: path.Join(jobPath, "exit_code"), Value: []byte(strconv.Itoa(doc.ExitCode))},
	}
	for _, w := range doc.Workers {
		state := w.State
		if w.Reason != "" {
			state += "(" + w.Reason + ")"
		}
		pairs = append(pairs, &api.KVPair{Key: path.Join(jobPath, "workers", strconv.Itoa(w.Rank)), Value: []byte(state)})
	}
	for _, kvp := range pairs {
		log.Debugf("Storing Consul key %q", kvp.Key)
		if _, err := p.kv.Put(kvp, nil); err != nil {
			return errors.Wrapf(err, "failed to store Consul key %q", kvp.Key)
		}
	}
	return nil
}
