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

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/stevedomin/termtable"
)

// Print writes a human readable summary of the job and a table of its workers
func Print(w io.Writer, doc Document, colorize bool) error {
	if colorize {
		defer color.Unset()
	}
	status := doc.Status
	if doc.Reason != "" {
		status = fmt.Sprintf("%s (%s)", doc.Status, doc.Reason)
	}
	var b strings.Builder
	if doc.JobID != "" {
		name := doc.JobName
		if name == "" {
			name = doc.JobID
		}
		fmt.Fprintf(&b, "Job %q (%s) started %s, ran for %s\n", name, doc.JobID, humanize.Time(doc.StartTime), doc.Duration)
	}
	fmt.Fprintf(&b, "Status: %s\n", getColoredStatus(colorize, status))
	if doc.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", doc.Error)
	}

	if len(doc.Workers) > 0 {
		table := termtable.NewTable(nil, &termtable.TableOptions{
			Padding:      1,
			UseSeparator: true,
		})
		table.SetHeader([]string{"Rank", "Node", "Local Rank", "Host", "PID", "State", "Exit Code"})
		for _, wk := range doc.Workers {
			state := wk.State
			if wk.Reason != "" {
				state = fmt.Sprintf("%s(%s)", wk.State, wk.Reason)
			}
			exitCode := "-"
			if wk.ExitCode >= 0 {
				exitCode = strconv.Itoa(wk.ExitCode)
			}
			pid := "-"
			if wk.PID != 0 {
				pid = strconv.Itoa(wk.PID)
			}
			table.AddRow([]string{
				strconv.Itoa(wk.Rank),
				strconv.Itoa(wk.NodeRank),
				strconv.Itoa(wk.LocalRank),
				wk.Host,
				pid,
				getColoredWorkerState(colorize, wk, state),
				exitCode,
			})
		}
		b.WriteString(table.Render())
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "failed to write job summary")
}

func getColoredStatus(colorize bool, status string) string {
	if !colorize {
		return status
	}
	switch {
	case strings.HasPrefix(status, "Success"):
		return color.New(color.FgHiGreen, color.Bold).SprintFunc()(status)
	case strings.HasPrefix(status, "PartialFailure"):
		return color.New(color.FgHiYellow, color.Bold).SprintFunc()(status)
	default:
		return color.New(color.FgHiRed, color.Bold).SprintFunc()(status)
	}
}

func getColoredWorkerState(colorize bool, wk Worker, state string) string {
	if !colorize {
		return state
	}
	if wk.State == "Exited" && wk.ExitCode == 0 {
		return color.New(color.FgHiGreen).SprintFunc()(state)
	}
	return color.New(color.FgHiRed).SprintFunc()(state)
}

// WriteFile stores the document as JSON in the given file
func WriteFile(path string, doc Document) error {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize job result")
	}
	err = ioutil.WriteFile(path, append(content, '\n'), 0644)
	return errors.Wrapf(err, "failed to write job result file %q", path)
}
