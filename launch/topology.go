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
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/config"
)

const localhost = "localhost"

const loopbackAddr = "127.0.0.1"

// InterfaceResolver gives access to the network configuration of the resolving host
type InterfaceResolver interface {
	// InterfaceAddrs returns the addresses of the named interface or an error if the interface does not exist
	InterfaceAddrs(name string) ([]net.Addr, error)
	Hostname() (string, error)
}

type hostResolver struct{}

func (hostResolver) InterfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}
	return iface.Addrs()
}

func (hostResolver) Hostname() (string, error) {
	return os.Hostname()
}

// ResolveTopology validates the given spec against the network configuration of this host
// and computes the placement of every rank.
func ResolveTopology(spec JobSpec) (ResolvedTopology, error) {
	return resolveTopology(spec, hostResolver{})
}

func resolveTopology(spec JobSpec, resolver InterfaceResolver) (ResolvedTopology, error) {
	var topo ResolvedTopology
	switch {
	case spec.NodeCount < 1:
		return topo, errors.WithStack(&InvalidTopologyError{Reason: "node count must be positive"})
	case spec.ProcessesPerNode < 1:
		return topo, errors.WithStack(&InvalidTopologyError{Reason: "processes per node must be positive"})
	case len(spec.Command) == 0 || spec.Command[0] == "":
		return topo, errors.WithStack(&InvalidTopologyError{Reason: "command is empty"})
	case len(spec.Hosts) != 0 && len(spec.Hosts) != spec.NodeCount:
		return topo, errors.WithStack(&InvalidTopologyError{Reason: "hosts count does not match node count"})
	case spec.MasterPort < 0 || spec.MasterPort > 65535:
		return topo, errors.WithStack(&InvalidTopologyError{Reason: "master port out of range"})
	}

	ifacesAddrs := make([][]net.Addr, len(spec.NetworkInterfaces))
	for i, name := range spec.NetworkInterfaces {
		addrs, err := resolver.InterfaceAddrs(name)
		if err != nil {
			return topo, errors.WithStack(&InterfaceUnavailableError{Interface: name, Err: err})
		}
		ifacesAddrs[i] = addrs
	}

	hostname, err := resolver.Hostname()
	if err != nil {
		return topo, errors.Wrap(err, "failed to get local host name")
	}

	topo.NodeCount = spec.NodeCount
	topo.ProcessesPerNode = spec.ProcessesPerNode
	topo.WorldSize = spec.WorldSize()
	topo.Interfaces = append([]string(nil), spec.NetworkInterfaces...)
	topo.MasterPort = spec.MasterPort
	if topo.MasterPort == 0 {
		topo.MasterPort = config.DefaultMasterPort
	}
	topo.Hosts = make([]string, spec.NodeCount)
	for i := range topo.Hosts {
		if len(spec.Hosts) != 0 {
			topo.Hosts[i] = spec.Hosts[i]
		} else {
			topo.Hosts[i] = localhost
		}
	}

	topo.MasterAddr = masterAddr(spec, topo.Hosts, hostname, ifacesAddrs)

	topo.Placements = make([]Placement, topo.WorldSize)
	for r := range topo.Placements {
		nodeRank := r / spec.ProcessesPerNode
		topo.Placements[r] = Placement{
			Rank:      r,
			NodeRank:  nodeRank,
			LocalRank: r % spec.ProcessesPerNode,
			Host:      topo.Hosts[nodeRank],
		}
	}
	return topo, nil
}

func masterAddr(spec JobSpec, hosts []string, hostname string, ifacesAddrs [][]net.Addr) string {
	if spec.MasterAddr != "" {
		return spec.MasterAddr
	}
	if !isLocalHost(hosts[0], hostname) {
		return hosts[0]
	}
	if len(ifacesAddrs) > 0 {
		if ip := firstIPv4(ifacesAddrs[0]); ip != "" {
			return ip
		}
	}
	for _, h := range hosts[1:] {
		if !isLocalHost(h, hostname) {
			// Remote nodes can't reach the loopback address
			if isLoopbackName(hosts[0]) {
				return hostname
			}
			return hosts[0]
		}
	}
	return loopbackAddr
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// isLocalHost checks if the given host designates the host on which the coordinator runs
func isLocalHost(host, hostname string) bool {
	if isLoopbackName(host) {
		return true
	}
	if hostname == "" {
		return false
	}
	return host == hostname || shortHostname(host) == shortHostname(hostname)
}

func isLoopbackName(host string) bool {
	switch host {
	case "", localhost, loopbackAddr, "::1":
		return true
	}
	return false
}

func shortHostname(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	return strings.SplitN(host, ".", 2)[0]
}
