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

// Package telemetry configures the metrics emitted by hpclaunch.
package telemetry

import (
	"fmt"
	"io"
	"sort"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/log"
)

const (
	memInterval = time.Minute
	memRetain   = 24 * time.Hour
)

// Telemetry keeps the metrics of the current hpclaunch run in memory in addition
// to the configured remote sinks
type Telemetry struct {
	mem *metrics.InmemSink
}

type remoteSink struct {
	kind    string
	address string
	create  func(addr string) (metrics.MetricSink, error)
}

// Setup configures the global metrics sink.
//
// Statsd and Statsite sinks are added when configured. The in-memory metrics may be dumped by
// sending a SIGUSR1 signal to hpclaunch or summarized with WriteSummary.
func Setup(cfg config.Telemetry) (*Telemetry, error) {
	t := &Telemetry{mem: metrics.NewInmemSink(memInterval, memRetain)}
	metrics.DefaultInmemSignal(t.mem)

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultTelemetryServiceName
	}
	metricsConf := metrics.DefaultConfig(serviceName)
	metricsConf.EnableHostname = !cfg.DisableHostName

	sinks := metrics.FanoutSink{t.mem}
	for _, rs := range []remoteSink{
		{"statsd", cfg.StatsdAddress, func(addr string) (metrics.MetricSink, error) { return metrics.NewStatsdSink(addr) }},
		{"statsite", cfg.StatsiteAddress, func(addr string) (metrics.MetricSink, error) { return metrics.NewStatsiteSink(addr) }},
	} {
		if rs.address == "" {
			continue
		}
		log.Debugf("Sending metrics to %s at %q", rs.kind, rs.address)
		sink, err := rs.create(rs.address)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create %s metrics sink", rs.kind)
		}
		sinks = append(sinks, sink)
	}
	if _, err := metrics.NewGlobal(metricsConf, sinks); err != nil {
		return nil, errors.Wrap(err, "failed to setup telemetry")
	}
	return t, nil
}

// WriteSummary writes the metrics recorded during the last 24 hours, one per line sorted by name.
//
// Counters are summed over the recorded intervals, gauges and samples report their last value.
func (t *Telemetry) WriteSummary(w io.Writer) error {
	counters := make(map[string]float64)
	gauges := make(map[string]float32)
	samples := make(map[string]*metrics.AggregateSample)
	for _, intv := range t.mem.Data() {
		intv.RLock()
		for name, c := range intv.Counters {
			if c.AggregateSample != nil {
				counters[name] += c.Sum
			}
		}
		for name, g := range intv.Gauges {
			gauges[name] = g.Value
		}
		for name, s := range intv.Samples {
			if s.AggregateSample != nil {
				samples[name] = s.AggregateSample
			}
		}
		intv.RUnlock()
	}

	lines := make([]string, 0, len(counters)+len(gauges)+len(samples))
	for name, v := range counters {
		lines = append(lines, fmt.Sprintf("%s counter %g", name, v))
	}
	for name, v := range gauges {
		lines = append(lines, fmt.Sprintf("%s gauge %g", name, v))
	}
	for name, s := range samples {
		lines = append(lines, fmt.Sprintf("%s sample count=%d mean=%.3f max=%.3f", name, s.Count, s.Mean(), s.Max))
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return errors.Wrap(err, "failed to write metrics summary")
		}
	}
	return nil
}
