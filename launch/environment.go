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
	"sort"
	"strconv"
	"strings"
)

// RankEnvironment computes the environment of the worker placed at p.
//
// The job spec environment is applied first so that rank variables always win.
func RankEnvironment(jobID string, spec JobSpec, topo ResolvedTopology, p Placement) map[string]string {
	env := make(map[string]string, len(spec.Environment)+20)
	for k, v := range spec.Environment {
		env[k] = v
	}

	rank := strconv.Itoa(p.Rank)
	worldSize := strconv.Itoa(topo.WorldSize)
	localRank := strconv.Itoa(p.LocalRank)
	localWorldSize := strconv.Itoa(topo.ProcessesPerNode)
	nodeRank := strconv.Itoa(p.NodeRank)

	env["RANK"] = rank
	env["WORLD_SIZE"] = worldSize
	env["LOCAL_RANK"] = localRank
	env["LOCAL_WORLD_SIZE"] = localWorldSize
	env["NODE_RANK"] = nodeRank
	env["GROUP_RANK"] = nodeRank
	env["MASTER_ADDR"] = topo.MasterAddr
	env["MASTER_PORT"] = strconv.Itoa(topo.MasterPort)

	// Open MPI compatible variables
	env["OMPI_COMM_WORLD_RANK"] = rank
	env["OMPI_COMM_WORLD_SIZE"] = worldSize
	env["OMPI_COMM_WORLD_LOCAL_RANK"] = localRank
	env["OMPI_COMM_WORLD_LOCAL_SIZE"] = localWorldSize
	env["OMPI_COMM_WORLD_NODE_RANK"] = nodeRank

	if len(topo.Interfaces) > 0 {
		ifaces := strings.Join(topo.Interfaces, ",")
		env["NCCL_SOCKET_IFNAME"] = ifaces
		env["GLOO_SOCKET_IFNAME"] = ifaces
		env["OMPI_MCA_btl_tcp_if_include"] = ifaces
		env["HPCLAUNCH_INTERFACES"] = ifaces
	}
	env["HPCLAUNCH_JOB_ID"] = jobID
	return env
}

// envList converts an environment map into a sorted list of "key=value" strings
func envList(env map[string]string) []string {
	res := make([]string, 0, len(env))
	for k, v := range env {
		res = append(res, k+"="+v)
	}
	sort.Strings(res)
	return res
}
