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

func detectPBS(env Environment) (*Allocation, error) {
	jobID := env.Getenv("PBS_JOBID")
	if jobID == "" {
		return nil, nil
	}
	a := &Allocation{Scheduler: SchedulerPBS, JobID: jobID}
	if nodeFile := env.Getenv("PBS_NODEFILE"); nodeFile != "" {
		content, err := env.ReadFile(nodeFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read PBS node file for job %q", jobID)
		}
		hosts, slots := parseNodeFile(content)
		a.Hosts = hosts
		if len(hosts) > 0 && slots%len(hosts) == 0 {
			a.ProcessesPerNode = slots / len(hosts)
		}
	}
	if ppn := env.Getenv("PBS_NUM_PPN"); ppn != "" {
		n, err := cast.ToIntE(ppn)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid PBS_NUM_PPN %q", ppn)
		}
		a.ProcessesPerNode = n
	}
	return a, nil
}

// parseNodeFile returns the unique hosts of a PBS node file in order of appearance
// and the total number of lines which is the number of slots.
func parseNodeFile(content []byte) ([]string, int) {
	var hosts []string
	var slots int
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		host := strings.TrimSpace(scanner.Text())
		if host == "" {
			continue
		}
		slots++
		if !seen[host] {
			seen[host] = true
			hosts = append(hosts, host)
		}
	}
	return hosts, slots
}
