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

// Package jobfile loads job descriptions from YAML or HCL files.
package jobfile

import (
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/ystia/hpclaunch/launch"
)

// File is the content of a job description file.
//
// Unset values are zero values and are filled from the command line or the scheduler allocation.
type File struct {
	Name              string            `yaml:"name,omitempty" hcl:"name,optional"`
	NodeCount         int               `yaml:"node_count,omitempty" hcl:"node_count,optional"`
	ProcessesPerNode  int               `yaml:"processes_per_node,omitempty" hcl:"processes_per_node,optional"`
	Command           []string          `yaml:"command,omitempty" hcl:"command,optional"`
	WorkingDirectory  string            `yaml:"working_directory,omitempty" hcl:"working_directory,optional"`
	Environment       map[string]string `yaml:"environment,omitempty" hcl:"environment,optional"`
	NetworkInterfaces []string          `yaml:"network_interfaces,omitempty" hcl:"network_interfaces,optional"`
	Hosts             []string          `yaml:"hosts,omitempty" hcl:"hosts,optional"`
	MasterAddr        string            `yaml:"master_addr,omitempty" hcl:"master_addr,optional"`
	MasterPort        int               `yaml:"master_port,omitempty" hcl:"master_port,optional"`
	// Timeout is a duration like "2h30m"
	Timeout   string     `yaml:"timeout,omitempty" hcl:"timeout,optional"`
	EnvFile   string     `yaml:"env_file,omitempty" hcl:"env_file,optional"`
	Modules   []string   `yaml:"modules,omitempty" hcl:"modules,optional"`
	Container *Container `yaml:"container,omitempty" hcl:"container,block"`
}

// Container describes the container image running the workers
type Container struct {
	Runtime   string   `yaml:"runtime" hcl:"runtime"`
	Image     string   `yaml:"image" hcl:"image"`
	Binds     []string `yaml:"binds,omitempty" hcl:"binds,optional"`
	GPU       bool     `yaml:"gpu,omitempty" hcl:"gpu,optional"`
	ShmSize   string   `yaml:"shm_size,omitempty" hcl:"shm_size,optional"`
	ExtraArgs []string `yaml:"extra_args,omitempty" hcl:"extra_args,optional"`
}

// Load reads a job description file. The format is chosen from the file extension:
// .yaml and .yml for YAML, .hcl for HCL.
func Load(path string) (*File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadYAML(path)
	case ".hcl":
		return loadHCL(path)
	}
	return nil, errors.Errorf("unsupported job file format %q, expecting .yaml, .yml or .hcl", path)
}

func loadYAML(path string) (*File, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read job file %q", path)
	}
	f := new(File)
	if err = yaml.UnmarshalStrict(content, f); err != nil {
		return nil, errors.Wrapf(err, "failed to parse job file %q", path)
	}
	return f, f.validate(path)
}

func loadHCL(path string) (*File, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to parse job file %q: %s", path, diags.Error())
	}
	f := new(File)
	diags = gohcl.DecodeBody(file.Body, nil, f)
	if diags.HasErrors() {
		return nil, errors.Errorf("failed to decode job file %q: %s", path, diags.Error())
	}
	return f, f.validate(path)
}

func (f *File) validate(path string) error {
	if _, err := f.TimeoutDuration(); err != nil {
		return errors.Wrapf(err, "invalid job file %q", path)
	}
	if f.Container != nil && f.Container.Image == "" {
		return errors.Errorf("invalid job file %q: container image is required", path)
	}
	return nil
}

// TimeoutDuration returns the parsed timeout, 0 if not set
func (f *File) TimeoutDuration() (time.Duration, error) {
	if f.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(f.Timeout)
	return d, errors.Wrapf(err, "invalid timeout %q", f.Timeout)
}

// JobSpec converts the file into a launch.JobSpec
func (f *File) JobSpec() launch.JobSpec {
	return launch.JobSpec{
		Name:              f.Name,
		NodeCount:         f.NodeCount,
		ProcessesPerNode:  f.ProcessesPerNode,
		Command:           f.Command,
		WorkingDirectory:  f.WorkingDirectory,
		Environment:       f.Environment,
		NetworkInterfaces: f.NetworkInterfaces,
		Hosts:             f.Hosts,
		MasterAddr:        f.MasterAddr,
		MasterPort:        f.MasterPort,
	}.Copy()
}
