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

// Package launch starts and monitors the worker processes of a distributed job.
package launch

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/hpclaunch/config"
	"github.com/ystia/hpclaunch/log"
)

// A Coordinator resolves job topologies, launches one worker process per rank
// and aggregates their exit statuses into a job result.
//
// Zero values of its fields are replaced by sensible defaults.
type Coordinator struct {
	// Resolver gives access to the network configuration of this host
	Resolver InterfaceResolver
	// LocalSpawner starts the ranks placed on this host
	LocalSpawner Spawner
	// RemoteSpawner starts the ranks placed on other hosts, if nil such ranks can't be spawned
	RemoteSpawner Spawner
	// Wrappers are applied in order to the command of each rank
	Wrappers []CommandWrapper
	// TerminationGracePeriod is the time given to workers to exit after a termination signal before they get killed
	TerminationGracePeriod time.Duration
	// WaitMasterTimeout, if positive, makes the coordinator wait for the master endpoint to accept connections
	// after rank 0 is started and before other ranks are started
	WaitMasterTimeout time.Duration
	// TagOutput re-emits workers output lines through named loggers, otherwise workers write to Stdout and Stderr
	TagOutput bool
	Logger    hclog.Logger
	Stdout    io.Writer
	Stderr    io.Writer
}

// NewCoordinator returns a Coordinator starting workers on this host and tagging their output
func NewCoordinator() *Coordinator {
	return &Coordinator{
		LocalSpawner:           LocalSpawner{},
		TerminationGracePeriod: config.DefaultTerminationGracePeriod,
		TagOutput:              true,
	}
}

func (c *Coordinator) resolver() InterfaceResolver {
	if c.Resolver == nil {
		return hostResolver{}
	}
	return c.Resolver
}

func (c *Coordinator) gracePeriod() time.Duration {
	if c.TerminationGracePeriod <= 0 {
		return config.DefaultTerminationGracePeriod
	}
	return c.TerminationGracePeriod
}

// ResolveTopology validates the given spec and computes the placement of every rank
func (c *Coordinator) ResolveTopology(spec JobSpec) (ResolvedTopology, error) {
	return resolveTopology(spec, c.resolver())
}

// Run resolves the topology of the given spec, launches the job and waits for its completion.
//
// An error is returned if the job could not be launched, in this case the result, if not nil,
// holds the state of the workers when the launch was aborted.
func (c *Coordinator) Run(ctx context.Context, spec JobSpec, timeout time.Duration) (*JobResult, error) {
	topo, err := c.ResolveTopology(spec)
	if err != nil {
		return nil, err
	}
	job, err := c.Launch(ctx, spec, topo)
	if err != nil {
		if job != nil {
			return job.Result(), err
		}
		return nil, err
	}
	return c.AwaitCompletion(ctx, job, timeout), nil
}

// Launch starts one worker per rank in increasing rank order.
//
// If a worker can't be started a *SpawnError is returned and every already started worker
// is terminated and reaped before Launch returns. The returned job is then finished and its
// result available.
func (c *Coordinator) Launch(ctx context.Context, spec JobSpec, topo ResolvedTopology) (*Job, error) {
	spec = spec.Copy()
	if topo.WorldSize != spec.WorldSize() || len(topo.Placements) != topo.WorldSize {
		return nil, errors.WithStack(&InvalidTopologyError{Reason: "resolved topology does not match the job spec"})
	}
	hostname, err := c.resolver().Hostname()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get local host name")
	}

	job := newJob(spec, topo)
	log.Printf("Launching job %q (%s): %d nodes, %d processes per node, master %s:%d",
		spec.Name, job.ID, topo.NodeCount, topo.ProcessesPerNode, topo.MasterAddr, topo.MasterPort)
	for _, p := range topo.Placements {
		if ctx.Err() != nil {
			log.Printf("Job %s cancelled while launching rank %d", job.ID, p.Rank)
			c.abort(job, ReasonCancelled)
			return job, errors.Wrapf(ErrCancelled, "launch of job %s interrupted", job.ID)
		}
		if err := c.spawn(job, p, hostname); err != nil {
			incrSpawn(false)
			log.Printf("%v, aborting job %s", err, job.ID)
			c.abort(job, ReasonAborted)
			return job, err
		}
		incrSpawn(true)
		if p.Rank == 0 && c.WaitMasterTimeout > 0 && topo.WorldSize > 1 {
			if err := waitForMaster(ctx, topo.MasterAddr, topo.MasterPort, c.WaitMasterTimeout); err != nil {
				if ctx.Err() != nil {
					c.abort(job, ReasonCancelled)
					return job, errors.Wrapf(ErrCancelled, "launch of job %s interrupted", job.ID)
				}
				log.Printf("Rank 0 of job %s is not ready: %v", job.ID, err)
				c.abort(job, ReasonAborted)
				return job, errors.WithStack(&SpawnError{Rank: 0, Host: p.Host, Err: err})
			}
		}
	}
	setRunningWorkers(topo.WorldSize)
	log.Debugf("All %d workers of job %s started", topo.WorldSize, job.ID)
	return job, nil
}

func (c *Coordinator) spawn(job *Job, p Placement, hostname string) error {
	env := RankEnvironment(job.ID, job.Spec, job.Topology, p)
	cmd, err := wrapCommand(c.Wrappers, job.Spec.Command, job.Spec.WorkingDirectory, env)
	if err != nil {
		return errors.WithStack(&SpawnError{Rank: p.Rank, Host: p.Host, Err: err})
	}
	spawner := c.LocalSpawner
	if !isLocalHost(p.Host, hostname) {
		spawner = c.RemoteSpawner
	}
	if spawner == nil {
		return errors.WithStack(&SpawnError{Rank: p.Rank, Host: p.Host, Err: errors.New("no launcher configured for this host")})
	}

	req := SpawnRequest{
		Rank:             p.Rank,
		Host:             p.Host,
		Command:          cmd,
		WorkingDirectory: job.Spec.WorkingDirectory,
		Env:              env,
		Stdout:           c.Stdout,
		Stderr:           c.Stderr,
	}
	if c.TagOutput {
		logger := c.Logger
		if logger == nil {
			logger = defaultWorkerLogger()
		}
		stdout, stderr := newWorkerOutput(logger, p.Rank)
		job.addOutput(stdout)
		job.addOutput(stderr)
		req.Stdout, req.Stderr = stdout, stderr
	} else {
		if req.Stdout == nil {
			req.Stdout = os.Stdout
		}
		if req.Stderr == nil {
			req.Stderr = os.Stderr
		}
	}

	log.Debugf("Spawning rank %d of job %s on %q: %q", p.Rank, job.ID, p.Host, cmd)
	proc, err := spawner.Spawn(job.procCtx, req)
	if err != nil {
		return errors.WithStack(&SpawnError{Rank: p.Rank, Host: p.Host, Err: err})
	}
	job.setRunning(p.Rank, proc)
	go func() {
		code, err := proc.Wait()
		job.exits <- workerExit{rank: p.Rank, code: code, err: err}
	}()
	return nil
}

// AwaitCompletion blocks until every worker of the job exited, the timeout elapsed or the context is cancelled.
//
// On timeout or cancellation the remaining workers are terminated, reaped and marked as failed with the
// corresponding reason. Workers that already exited keep their Exited state and exit code, only the
// running ones become Failed(Cancelled) or Failed(Timeout). A cancelled job is a total failure even if
// some of its workers succeeded. A timeout of 0 means no timeout.
func (c *Coordinator) AwaitCompletion(ctx context.Context, job *Job, timeout time.Duration) *JobResult {
	if r := job.Result(); r != nil {
		return r
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	reason := ReasonNone
loop:
	for job.unreapedCount() > 0 {
		select {
		case e := <-job.exits:
			c.recordExit(job, e)
		case <-timeoutCh:
			log.Printf("Job %s timed out after %s, terminating remaining workers", job.ID, timeout)
			reason = ReasonTimeout
			break loop
		case <-ctx.Done():
			log.Printf("Job %s cancelled, terminating remaining workers", job.ID)
			reason = ReasonCancelled
			break loop
		}
	}
	if reason != ReasonNone {
		c.stop(job, reason)
	}
	result := job.finish(reason)
	measureJobDuration(job.StartTime)
	setRunningWorkers(0)
	log.Printf("Job %s finished: %s in %s", job.ID, result.Status, result.Duration)
	return result
}

func (c *Coordinator) recordExit(job *Job, e workerExit) {
	h := job.recordExit(e)
	incrWorkerExit(h)
	switch {
	case e.err != nil:
		log.Printf("Failed to get exit status of rank %d of job %s: %v", h.Rank, job.ID, e.err)
	case h.State == WorkerExited && h.ExitCode != 0:
		log.Printf("Rank %d of job %s exited with code %d", h.Rank, job.ID, h.ExitCode)
	default:
		log.Debugf("Rank %d of job %s is now %s", h.Rank, job.ID, h.Status())
	}
	setRunningWorkers(job.unreapedCount())
}

// abort stops a job which could not be fully launched
func (c *Coordinator) abort(job *Job, reason FailureReason) {
	job.failPending(reason)
	c.stop(job, reason)
	job.finish(reason)
}

// stop terminates every running worker, kills those still running after the grace period and reaps them all
func (c *Coordinator) stop(job *Job, reason FailureReason) {
	procs := job.failRunning(reason)
	if len(procs) == 0 {
		return
	}
	signalAll(procs, Process.Terminate)

	grace := time.NewTimer(c.gracePeriod())
	defer grace.Stop()
	for job.unreapedCount() > 0 {
		select {
		case e := <-job.exits:
			c.recordExit(job, e)
		case <-grace.C:
			remaining := job.unreaped()
			log.Printf("%d workers of job %s still running after %s, killing them", len(remaining), job.ID, c.gracePeriod())
			signalAll(remaining, Process.Kill)
		}
	}
}

func signalAll(procs []Process, signal func(Process) error) {
	var g errgroup.Group
	for _, p := range procs {
		p := p
		g.Go(func() error {
			return signal(p)
		})
	}
	if err := g.Wait(); err != nil {
		log.Debugf("failed to signal workers: %v", err)
	}
}
