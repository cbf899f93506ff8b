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

func TestPreamble(t *testing.T) {
	t.Parallel()
	cmd := []string{"python", "train.py"}
	tests := []struct {
		name     string
		preamble Preamble
		want     []string
	}{
		{"Empty", Preamble{}, cmd},
		{"EnvFile", Preamble{EnvFile: "/opt/env/setup.sh"},
			[]string{"bash", "-c", `source /opt/env/setup.sh && exec "$@"`, "hpclaunch", "python", "train.py"}},
		{"Modules", Preamble{EnvFile: "~/my env.sh", Modules: []string{"pytorch/1.13", "openmpi"}},
			[]string{"bash", "-l", "-c", `source '~/my env.sh' && module load pytorch/1.13 && module load openmpi && exec "$@"`, "hpclaunch", "python", "train.py"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.preamble.WrapCommand(cmd, "", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
