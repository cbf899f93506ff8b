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
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

var tasksPerNodeRegexp = regexp.MustCompile(`^(\d+)(?:\(x(\d+)\))?$`)

func detectSlurm(env Environment) (*Allocation, error) {
	jobID := env.Getenv("SLURM_JOB_ID")
	if jobID == "" {
		jobID = env.Getenv("SLURM_JOBID")
	}
	if jobID == "" {
		return nil, nil
	}
	a := &Allocation{Scheduler: SchedulerSlurm, JobID: jobID}

	nodeList := env.Getenv("SLURM_JOB_NODELIST")
	if nodeList == "" {
		nodeList = env.Getenv("SLURM_NODELIST")
	}
	if nodeList != "" {
		hosts, err := ExpandNodeList(nodeList)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid Slurm node list for job %q", jobID)
		}
		a.Hosts = hosts
	}
	if nn := env.Getenv("SLURM_JOB_NUM_NODES"); nn != "" {
		n, err := cast.ToIntE(nn)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid SLURM_JOB_NUM_NODES %q", nn)
		}
		if len(a.Hosts) != 0 && n != len(a.Hosts) {
			return nil, errors.Errorf("Slurm job %q has %d nodes but its node list contains %d hosts", jobID, n, len(a.Hosts))
		}
	}

	if tpn := env.Getenv("SLURM_NTASKS_PER_NODE"); tpn != "" {
		n, err := cast.ToIntE(tpn)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid SLURM_NTASKS_PER_NODE %q", tpn)
		}
		a.ProcessesPerNode = n
	} else if tpn := env.Getenv("SLURM_TASKS_PER_NODE"); tpn != "" {
		n, err := parseTasksPerNode(tpn)
		if err != nil {
			return nil, err
		}
		a.ProcessesPerNode = n
	}

	if end := env.Getenv("SLURM_JOB_END_TIME"); end != "" {
		ts, err := cast.ToInt64E(end)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid SLURM_JOB_END_TIME %q", end)
		}
		if ts > 0 {
			a.EndTime = time.Unix(ts, 0)
		}
	}
	return a, nil
}

// parseTasksPerNode parses the SLURM_TASKS_PER_NODE format like "8(x2),8".
//
// Only uniform distributions are supported.
func parseTasksPerNode(value string) (int, error) {
	var tasks int
	for _, item := range strings.Split(value, ",") {
		m := tasksPerNodeRegexp.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			return 0, errors.Errorf("invalid SLURM_TASKS_PER_NODE %q", value)
		}
		n, _ := strconv.Atoi(m[1])
		if tasks != 0 && n != tasks {
			return 0, errors.Errorf("non uniform tasks per node distribution %q is not supported", value)
		}
		tasks = n
	}
	return tasks, nil
}

// ExpandNodeList expands a Slurm host list expression like "node[01-03,07],gpu1" into host names
func ExpandNodeList(nodeList string) ([]string, error) {
	var hosts []string
	for _, expr := range splitNodeList(nodeList) {
		expanded, err := expandHostExpr(expr)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, expanded...)
	}
	return hosts, nil
}

// splitNodeList splits a host list on comas that are not enclosed in brackets
func splitNodeList(nodeList string) []string {
	var res []string
	var depth, start int
	for i, c := range nodeList {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				if s := strings.TrimSpace(nodeList[start:i]); s != "" {
					res = append(res, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(nodeList[start:]); s != "" {
		res = append(res, s)
	}
	return res
}

func expandHostExpr(expr string) ([]string, error) {
	open := strings.Index(expr, "[")
	if open < 0 {
		if strings.Contains(expr, "]") {
			return nil, errors.Errorf("unbalanced brackets in host expression %q", expr)
		}
		return []string{expr}, nil
	}
	end := strings.Index(expr[open:], "]")
	if end < 0 {
		return nil, errors.Errorf("unbalanced brackets in host expression %q", expr)
	}
	end += open
	prefix, ranges, rest := expr[:open], expr[open+1:end], expr[end+1:]

	suffixes, err := expandHostExpr(rest)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, r := range strings.Split(ranges, ",") {
		ids, err := expandRange(strings.TrimSpace(r))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid host expression %q", expr)
		}
		for _, id := range ids {
			for _, s := range suffixes {
				hosts = append(hosts, prefix+id+s)
			}
		}
	}
	return hosts, nil
}

// expandRange expands "3", "01-04" into the list of ids, keeping the zero padding of the lower bound
func expandRange(r string) ([]string, error) {
	bounds := strings.SplitN(r, "-", 2)
	low, err := strconv.Atoi(bounds[0])
	if err != nil {
		return nil, errors.Errorf("invalid range %q", r)
	}
	if len(bounds) == 1 {
		return []string{bounds[0]}, nil
	}
	high, err := strconv.Atoi(bounds[1])
	if err != nil || high < low {
		return nil, errors.Errorf("invalid range %q", r)
	}
	width := len(bounds[0])
	ids := make([]string, 0, high-low+1)
	for i := low; i <= high; i++ {
		ids = append(ids, fmt.Sprintf("%0*d", width, i))
	}
	return ids, nil
}
