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

	"github.com/kballard/go-shellquote"
)

// Preamble is a CommandWrapper preparing the worker shell environment before running its command.
//
// It sources an environment file and loads environment modules, then replaces the shell by the worker command.
type Preamble struct {
	EnvFile string
	Modules []string
}

// WrapCommand implements the CommandWrapper interface
func (p Preamble) WrapCommand(command []string, workingDirectory string, env map[string]string) ([]string, error) {
	if p.EnvFile == "" && len(p.Modules) == 0 {
		return command, nil
	}
	steps := make([]string, 0, len(p.Modules)+2)
	if p.EnvFile != "" {
		steps = append(steps, "source "+shellquote.Join(p.EnvFile))
	}
	for _, m := range p.Modules {
		steps = append(steps, "module load "+shellquote.Join(m))
	}
	steps = append(steps, `exec "$@"`)

	shellArgs := []string{"bash"}
	if len(p.Modules) > 0 {
		// module is a shell function defined by login profiles
		shellArgs = append(shellArgs, "-l")
	}
	shellArgs = append(shellArgs, "-c", strings.Join(steps, " && "), "hpclaunch")
	return append(shellArgs, command...), nil
}
