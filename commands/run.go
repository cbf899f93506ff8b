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
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ystia/hpclaunch/allocation"
	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/launch"
	"github.com/ystia/hpclaunch/log"
	"github.com/ystia/hpclaunch/report"
	"github.com/ystia/hpclaunch/telemetry"
)

func init() {
	runCmd.Flags().SetInterspersed(false)
	RootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [flags] [--] [command [args...]]",
	Short: "Launch a distributed job",
	Long: `Launch a distributed job: resolve its topology, start one worker per rank,
wait for them to complete and report the job status.

The command may be given as arguments or in the job file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		j, err := resolveJob(cfg, args, flagChanged(cmd.Flags()), allocation.HostEnvironment, time.Now())
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		c, err := newCoordinator(cfg, j)
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		tel, err := telemetry.Setup(cfg.Telemetry)
		if err != nil {
			return &ExitError{Code: report.ExitInvalidConfig, Err: err}
		}
		var publisher resultPublisher
		if cfg.Consul.ResultPrefix != "" {
			client, err := cfg.GetConsulClient()
			if err != nil {
				return &ExitError{Code: report.ExitInvalidConfig, Err: err}
			}
			publisher = report.NewConsulPublisher(client, cfg.Consul.ResultPrefix)
		}

		ctx, cancel := signalContext()
		defer cancel()
		code := runJob(ctx, cfg, c, j, os.Stdout, publisher)
		if log.IsDebug() {
			logMetricsSummary(tel)
		}
		if code != report.ExitSuccess {
			return &ExitError{Code: code}
		}
		return nil
	},
}

type resultPublisher interface {
	Publish(doc report.Document) error
}

// runJob runs the job to completion, reports its outcome and returns the hpclaunch exit code
func runJob(ctx context.Context, cfg config.Configuration, c *launch.Coordinator, j *job, out io.Writer, publisher resultPublisher) int {
	if j.timeout > 0 {
		log.Debugf("Job timeout set to %s", j.timeout)
	}
	result, err := c.Run(ctx, j.spec, j.timeout)
	doc := report.NewDocument(result, err)

	if err := report.Print(out, doc, colorize()); err != nil {
		log.Printf("Failed to print job report: %+v", err)
	}
	if cfg.ResultFile != "" {
		if err := report.WriteFile(cfg.ResultFile, doc); err != nil {
			log.Printf("Failed to write job report: %+v", err)
		}
	}
	if publisher != nil && doc.JobID != "" {
		if err := publisher.Publish(doc); err != nil {
			log.Printf("Failed to publish job report: %+v", err)
		}
	}
	return doc.ExitCode
}

func logMetricsSummary(tel *telemetry.Telemetry) {
	var b strings.Builder
	if err := tel.WriteSummary(&b); err != nil {
		log.Debugf("%+v", err)
		return
	}
	log.Debugf("Job metrics:\n%s", b.String())
}

// signalContext returns a context cancelled when hpclaunch receives an interruption or termination signal
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(signalCh)
		select {
		case sig := <-signalCh:
			log.Printf("Received %s signal, cancelling the job", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
