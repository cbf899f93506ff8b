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

package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stevedomin/termtable"

	"github.com/ystia/hpclaunch/allocation"
	"github.com/ystia/hpclaunch/launch"
	"github.com/ystia/hpclaunch/report"
)

var showRankEnv int

func init() {
	topologyCmd.Flags().SetInterspersed(false)
	topologyCmd.Flags().IntVar(&showRankEnv, "rank_env", -1, "Print the environment given to this rank")
	RootCmd.AddCommand(topologyCmd)
}

var topologyCmd = &cobra.Command{
	Use:   "topology [flags] [--] [command [args...]]",
	Short: "Print the placement of every rank without launching the job",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		j, err := resolveJob(cfg, args, flagChanged(cmd.Flags()), allocation.HostEnvironment, time.Now())
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		if len(j.spec.Command) == 0 {
			// Only the placement is computed, the command is never run
			j.spec.Command = []string{"<command>"}
		}
		topo, err := launch.NewCoordinator().ResolveTopology(j.spec)
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		if err = printTopology(os.Stdout, j, topo); err != nil {
			return err
		}
		if showRankEnv >= 0 {
			return printRankEnvironment(os.Stdout, j, topo, showRankEnv)
		}
		return nil
	},
}

func printTopology(w io.Writer, j *job, topo launch.ResolvedTopology) error {
	var b strings.Builder
	fmt.Fprintf(&b, "World size: %d (%d nodes x %d processes)\n", topo.WorldSize, topo.NodeCount, topo.ProcessesPerNode)
	fmt.Fprintf(&b, "Master: %s:%d\n", topo.MasterAddr, topo.MasterPort)
	if len(topo.Interfaces) > 0 {
		fmt.Fprintf(&b, "Interfaces: %s\n", strings.Join(topo.Interfaces, ","))
	}
	if j.timeout > 0 {
		fmt.Fprintf(&b, "Timeout: %s\n", j.timeout)
	}
	table := termtable.NewTable(nil, &termtable.TableOptions{
		Padding:      1,
		UseSeparator: true,
	})
	table.SetHeader([]string{"Rank", "Node", "Local Rank", "Host"})
	for _, p := range topo.Placements {
		table.AddRow([]string{strconv.Itoa(p.Rank), strconv.Itoa(p.NodeRank), strconv.Itoa(p.LocalRank), p.Host})
	}
	b.WriteString(table.Render())
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "failed to write topology")
}

func printRankEnvironment(w io.Writer, j *job, topo launch.ResolvedTopology, rank int) error {
	if rank >= len(topo.Placements) {
		return &ExitError{
			Code: report.ExitInvalidConfig,
			Err:  errors.Errorf("rank %d is out of the world of size %d", rank, topo.WorldSize),
		}
	}
	env := launch.RankEnvironment("<job id>", j.spec, topo, topo.Placements[rank])
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "failed to write rank environment")
}
