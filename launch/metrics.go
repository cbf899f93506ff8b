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
	"strings"
	"time"

	"github.com/armon/go-metrics"
)

func cleanupMetricKey(key string) string {
	key = strings.ToLower(key)
	for _, c := range []string{".", "/", "|", ":", " "} {
		key = strings.Replace(key, c, "-", -1)
	}
	return key
}

func incrSpawn(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	metrics.IncrCounter([]string{"launch", "spawn", status}, 1)
}

func incrWorkerExit(w WorkerHandle) {
	metrics.IncrCounter([]string{"launch", "worker", "exit", cleanupMetricKey(w.State.String())}, 1)
}

func setRunningWorkers(n int) {
	metrics.SetGauge([]string{"launch", "workers", "running"}, float32(n))
}

func measureJobDuration(start time.Time) {
	metrics.MeasureSince([]string{"launch", "job", "duration"}, start)
}
