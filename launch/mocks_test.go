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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// MockResolver allows to mock the host network configuration
type MockResolver struct {
	HostName   string
	Interfaces map[string][]net.Addr
}

func (r *MockResolver) InterfaceAddrs(name string) ([]net.Addr, error) {
	addrs, ok := r.Interfaces[name]
	if !ok {
		return nil, errors.Errorf("route ip+net: no such network interface")
	}
	return addrs, nil
}

func (r *MockResolver) Hostname() (string, error) {
	return r.HostName, nil
}

func ipNet(cidr string) net.Addr {
	ip, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

// MockProcess is a worker process exiting on demand
type MockProcess struct {
	pid        int
	exit       chan int
	once       sync.Once
	IgnoreTerm bool
	terminated int32
	killed     int32
}

func newMockProcess(pid int) *MockProcess {
	return &MockProcess{pid: pid, exit: make(chan int, 1)}
}

func (p *MockProcess) Pid() int {
	return p.pid
}

func (p *MockProcess) Wait() (int, error) {
	return <-p.exit, nil
}

func (p *MockProcess) Terminate() error {
	atomic.AddInt32(&p.terminated, 1)
	if !p.IgnoreTerm {
		p.ExitWith(143)
	}
	return nil
}

func (p *MockProcess) Kill() error {
	atomic.AddInt32(&p.killed, 1)
	p.ExitWith(137)
	return nil
}

// ExitWith makes the process exit with the given code, only the first call has an effect
func (p *MockProcess) ExitWith(code int) {
	p.once.Do(func() {
		p.exit <- code
	})
}

func (p *MockProcess) Terminated() bool {
	return atomic.LoadInt32(&p.terminated) > 0
}

func (p *MockProcess) Killed() bool {
	return atomic.LoadInt32(&p.killed) > 0
}

// MockSpawner records spawn requests and returns MockProcesses
type MockSpawner struct {
	MockSpawn func(req SpawnRequest) (*MockProcess, error)

	lock      sync.Mutex
	requests  []SpawnRequest
	processes []*MockProcess
}

func (s *MockSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	var p *MockProcess
	var err error
	if s.MockSpawn != nil {
		p, err = s.MockSpawn(req)
	} else {
		p = newMockProcess(1000 + req.Rank)
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	s.requests = append(s.requests, req)
	if err != nil {
		return nil, err
	}
	s.processes = append(s.processes, p)
	return p, nil
}

func (s *MockSpawner) Requests() []SpawnRequest {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]SpawnRequest(nil), s.requests...)
}

func (s *MockSpawner) Processes() []*MockProcess {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]*MockProcess(nil), s.processes...)
}

func testCoordinator(spawner Spawner) *Coordinator {
	return &Coordinator{
		Resolver:               &MockResolver{HostName: "node0"},
		LocalSpawner:           spawner,
		TerminationGracePeriod: 50 * time.Millisecond,
	}
}

func testSpec(nodes, ppn int) JobSpec {
	return JobSpec{
		Name:             "test",
		NodeCount:        nodes,
		ProcessesPerNode: ppn,
		Command:          []string{"python", "train.py"},
		WorkingDirectory: "/scratch/job",
	}
}

// waitFor polls the given condition until it is true or fails the test after a few seconds
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
