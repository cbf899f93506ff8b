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

// Package config defines configuration structures
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// DefaultMasterPort is the default port used by rank 0 for the coordination endpoint
const DefaultMasterPort int = 29500

// DefaultTerminationGracePeriod is the time given to workers to exit after a termination signal before they get killed
const DefaultTerminationGracePeriod = 10 * time.Second

// DefaultWalltimeMargin is the time kept aside from the scheduler elapsed-time budget to terminate workers before the scheduler does it
const DefaultWalltimeMargin = 2 * time.Minute

// DefaultLauncher is the default process launcher
const DefaultLauncher = LauncherLocal

// DefaultSSHPort is the default port used to reach remote nodes
const DefaultSSHPort int = 22

// DefaultTelemetryServiceName is the default prefix of emitted metrics
const DefaultTelemetryServiceName = "hpclaunch"

const (
	// LauncherLocal starts every rank on the local host
	LauncherLocal = "local"
	// LauncherSSH starts ranks of remote nodes through SSH
	LauncherSSH = "ssh"
)

// Configuration holds config information filled by Cobra and Viper (see commands package for more information)
type Configuration struct {
	JobName                string
	JobFile                string
	WorkingDirectory       string
	NodeCount              int
	ProcessesPerNode       int
	Hosts                  []string
	NetworkInterfaces      []string
	Environment            map[string]string
	MasterAddr             string
	MasterPort             int
	Timeout                time.Duration
	Elapsed                time.Duration
	WalltimeMargin         time.Duration
	TerminationGracePeriod time.Duration
	WaitMasterTimeout      time.Duration
	Launcher               string
	TagOutput              bool
	EnvFile                string
	Modules                []string
	ResultFile             string
	Container              Container
	SSH                    SSH
	Telemetry              Telemetry
	Consul                 Consul
}

// Container holds the configuration of the container runtime wrapping worker commands
type Container struct {
	// Runtime is one of singularity, apptainer or docker. Empty means no container.
	Runtime   string
	Image     string
	Binds     []string
	GPU       bool
	ShmSize   string
	ExtraArgs []string
}

// SSH holds the configuration used to start ranks on remote nodes
type SSH struct {
	User           string
	PrivateKey     string
	Port           int
	KnownHostsFile string
}

// Telemetry holds the configuration for the telemetry service
type Telemetry struct {
	StatsdAddress   string
	StatsiteAddress string
	ServiceName     string
	DisableHostName bool
}

// Consul holds the configuration used to publish job results into Consul
type Consul struct {
	Address      string
	Token        string
	Datacenter   string
	ResultPrefix string
}

// ParseEnvironment converts a list of "key=value" strings into a map.
//
// Values may contain '=' characters, only the first one separates the key from the value.
func ParseEnvironment(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		idx := strings.Index(p, "=")
		if idx <= 0 {
			return nil, errors.Errorf("malformed environment variable %q, expecting key=value", p)
		}
		env[p[:idx]] = p[idx+1:]
	}
	return env, nil
}

// ToStringSlice casts a raw configuration value into a slice of strings.
// If the raw value is a string, it is split on comas, blank items are removed.
func ToStringSlice(val interface{}) []string {
	var raw []string
	switch v := val.(type) {
	case string:
		raw = strings.Split(v, ",")
	default:
		raw = cast.ToStringSlice(val)
	}
	res := make([]string, 0, len(raw))
	for _, r := range raw {
		// Cobra may give a slice with only one element containing coma separated input flags
		for _, item := range strings.Split(r, ",") {
			if item = strings.TrimSpace(item); item != "" {
				res = append(res, item)
			}
		}
	}
	return res
}
