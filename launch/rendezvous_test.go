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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForMaster(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, waitForMaster(context.Background(), "127.0.0.1", port, time.Second))
}

func TestWaitForMasterNotReachable(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	err = waitForMaster(context.Background(), "127.0.0.1", port, 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not reachable")
}

func TestLaunchAbortsWhenMasterIsNotReady(t *testing.T) {
	t.Parallel()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	spawner := &MockSpawner{}
	c := testCoordinator(spawner)
	c.WaitMasterTimeout = 200 * time.Millisecond
	spec := testSpec(1, 4)
	spec.MasterPort = port
	topo, err := c.ResolveTopology(spec)
	require.NoError(t, err)

	job, err := c.Launch(context.Background(), spec, topo)
	require.Error(t, err)
	require.True(t, IsSpawnError(err))
	require.Len(t, spawner.Processes(), 1)
	assert.True(t, spawner.Processes()[0].Terminated())
	assert.Equal(t, StatusTotalFailure, job.Result().Status)
}
