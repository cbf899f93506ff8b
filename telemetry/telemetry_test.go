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

package telemetry

import (
	"sort"
	"strings"
	"testing"

	metrics "github.com/armon/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/hpclaunch/config"
)

// Setup replaces the global metrics sink, tests of this package are not run in parallel

func TestSetupInMemory(t *testing.T) {
	tel, err := Setup(config.Telemetry{ServiceName: "test", DisableHostName: true})
	require.NoError(t, err)
	require.NotNil(t, tel)

	metrics.IncrCounter([]string{"launch", "spawn", "success"}, 1)
	data := tel.mem.Data()
	require.NotEmpty(t, data)
	_, ok := data[len(data)-1].Counters["test.launch.spawn.success"]
	assert.True(t, ok, "counter not found in %+v", data[len(data)-1].Counters)
}

func TestSetupWithStatsd(t *testing.T) {
	tel, err := Setup(config.Telemetry{StatsdAddress: "127.0.0.1:8125", StatsiteAddress: "127.0.0.1:8126"})
	require.NoError(t, err)
	require.NotNil(t, tel)
}

func TestWriteSummary(t *testing.T) {
	tel, err := Setup(config.Telemetry{ServiceName: "summary", DisableHostName: true})
	require.NoError(t, err)

	metrics.IncrCounter([]string{"launch", "spawn", "success"}, 1)
	metrics.IncrCounter([]string{"launch", "spawn", "success"}, 2)
	metrics.SetGauge([]string{"launch", "workers", "running"}, 4)
	metrics.SetGauge([]string{"launch", "workers", "running"}, 0)
	metrics.AddSample([]string{"launch", "job", "duration"}, 10)
	metrics.AddSample([]string{"launch", "job", "duration"}, 30)

	var b strings.Builder
	require.NoError(t, tel.WriteSummary(&b))
	out := b.String()
	tests := []struct {
		name string
		line string
	}{
		{"CounterSummed", "summary.launch.spawn.success counter 3\n"},
		{"GaugeLastValue", "summary.launch.workers.running gauge 0\n"},
		{"Sample", "summary.launch.job.duration sample count=2 mean=20.000 max=30.000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, out, tt.line)
		})
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, sort.StringsAreSorted(lines), "summary not sorted:\n%s", out)
}
