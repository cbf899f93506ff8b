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

package allocation

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

func detectGridEngine(env Environment) (*Allocation, error) {
	jobID := env.Getenv("JOB_ID")
	hostFile := env.Getenv("PE_HOSTFILE")
	if jobID == "" || hostFile == "" {
		return nil, nil
	}
	a := &Allocation{Scheduler: SchedulerGridEngine, JobID: jobID}
	content, err := env.ReadFile(hostFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read Grid Engine host file for job %q", jobID)
	}
	var slots []int
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		// host slots queue processor-range
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("malformed Grid Engine host file line %q", scanner.Text())
		}
		n, err := cast.ToIntE(fields[1])
		if err != nil {
			return nil, errors.Wrapf(err, "malformed Grid Engine host file line %q", scanner.Text())
		}
		a.Hosts = append(a.Hosts, fields[0])
		slots = append(slots, n)
	}
	if len(slots) > 0 {
		a.ProcessesPerNode = slots[0]
		for _, s := range slots[1:] {
			if s != a.ProcessesPerNode {
				a.ProcessesPerNode = 0
				break
			}
		}
	}
	return a, nil
}
