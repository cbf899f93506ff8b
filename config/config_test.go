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

package config

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvironment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "TestEmpty", pairs: nil, want: map[string]string{}},
		{name: "TestSimple", pairs: []string{"A=1", "B=two"}, want: map[string]string{"A": "1", "B": "two"}},
		{name: "TestValueWithEqual", pairs: []string{"OPTS=--a=b"}, want: map[string]string{"OPTS": "--a=b"}},
		{name: "TestEmptyValue", pairs: []string{"A="}, want: map[string]string{"A": ""}},
		{name: "TestBlankSkipped", pairs: []string{" ", "A=1"}, want: map[string]string{"A": "1"}},
		{name: "TestMissingEqual", pairs: []string{"A"}, wantErr: true},
		{name: "TestMissingKey", pairs: []string{"=1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvironment(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEnvironment() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseEnvironment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToStringSlice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input interface{}
		want  []string
	}{
		{name: "TestString", input: "ib0,eth0", want: []string{"ib0", "eth0"}},
		{name: "TestStringWithBlanks", input: " ib0 , ,eth0", want: []string{"ib0", "eth0"}},
		{name: "TestSlice", input: []string{"ib0", "eth0"}, want: []string{"ib0", "eth0"}},
		{name: "TestCobraSlice", input: []string{"ib0,eth0"}, want: []string{"ib0", "eth0"}},
		{name: "TestInterfaceSlice", input: []interface{}{"ib0", "eth0"}, want: []string{"ib0", "eth0"}},
		{name: "TestNil", input: nil, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToStringSlice(tt.input))
		})
	}
}

func TestGetConsulClient(t *testing.T) {
	t.Parallel()
	cfg := Configuration{Consul: Consul{Address: "127.0.0.1:8500", Datacenter: "dc2", Token: "secret"}}
	client, err := cfg.GetConsulClient()
	require.NoError(t, err)
	require.NotNil(t, client)
}
