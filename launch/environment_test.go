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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankEnvironment(t *testing.T) {
	t.Parallel()
	spec := testSpec(2, 4)
	spec.Environment = map[string]string{"OMP_NUM_THREADS": "4", "RANK": "overridden"}
	spec.NetworkInterfaces = []string{"ib0", "ib1"}
	topo := ResolvedTopology{
		NodeCount:        2,
		ProcessesPerNode: 4,
		WorldSize:        8,
		MasterAddr:       "node0",
		MasterPort:       29400,
		Interfaces:       []string{"ib0", "ib1"},
	}
	env := RankEnvironment("job-1", spec, topo, Placement{Rank: 6, NodeRank: 1, LocalRank: 2, Host: "node1"})

	expected := map[string]string{
		"OMP_NUM_THREADS":             "4",
		"RANK":                        "6",
		"WORLD_SIZE":                  "8",
		"LOCAL_RANK":                  "2",
		"LOCAL_WORLD_SIZE":            "4",
		"NODE_RANK":                   "1",
		"GROUP_RANK":                  "1",
		"MASTER_ADDR":                 "node0",
		"MASTER_PORT":                 "29400",
		"OMPI_COMM_WORLD_RANK":        "6",
		"OMPI_COMM_WORLD_SIZE":        "8",
		"OMPI_COMM_WORLD_LOCAL_RANK":  "2",
		"OMPI_COMM_WORLD_LOCAL_SIZE":  "4",
		"OMPI_COMM_WORLD_NODE_RANK":   "1",
		"NCCL_SOCKET_IFNAME":          "ib0,ib1",
		"GLOO_SOCKET_IFNAME":          "ib0,ib1",
		"OMPI_MCA_btl_tcp_if_include": "ib0,ib1",
		"HPCLAUNCH_INTERFACES":        "ib0,ib1",
		"HPCLAUNCH_JOB_ID":            "job-1",
	}
	assert.Equal(t, expected, env)
}

func TestRankEnvironmentWithoutInterfaces(t *testing.T) {
	t.Parallel()
	topo := ResolvedTopology{NodeCount: 1, ProcessesPerNode: 1, WorldSize: 1, MasterAddr: "127.0.0.1", MasterPort: 29500}
	env := RankEnvironment("job-2", testSpec(1, 1), topo, Placement{})
	require.Equal(t, "0", env["RANK"])
	for _, k := range []string{"NCCL_SOCKET_IFNAME", "GLOO_SOCKET_IFNAME", "OMPI_MCA_btl_tcp_if_include", "HPCLAUNCH_INTERFACES"} {
		_, ok := env[k]
		assert.False(t, ok, "%s should not be set", k)
	}
}

func TestEnvList(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"A=1", "B=x=y", "C="}, envList(map[string]string{"C": "", "A": "1", "B": "x=y"}))
}
