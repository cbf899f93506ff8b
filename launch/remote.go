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
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/ystia/hpclaunch/helper/sshutil"
	"github.com/ystia/hpclaunch/log"
)

// remotePIDMarker prefixes the first output line of a remote worker, it carries the worker pid
const remotePIDMarker = "HPCLAUNCH_REMOTE_PID="

// SSHSpawner starts workers on remote hosts through SSH sessions.
//
// The remote shell announces its pid before exec'ing the worker command. As SSH servers run commands
// of sessions without terminal in a new session, this pid is also the worker process group. Workers are
// then stopped by signaling this group through another SSH connection.
type SSHSpawner struct {
	Config *ssh.ClientConfig
	Port   int
}

type remoteSession interface {
	Wait() (int, error)
	Signal(sig ssh.Signal) error
	Close() error
}

type remoteProcess struct {
	host    string
	session remoteSession
	client  sshutil.Client
	output  *pidWriter

	lock   sync.Mutex
	exited bool
}

// Spawn implements the Spawner interface
func (s *SSHSpawner) Spawn(ctx context.Context, req SpawnRequest) (Process, error) {
	if len(req.Command) == 0 {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := &sshutil.SSHClient{Config: s.Config, Host: req.Host, Port: s.Port}
	output := newPIDWriter(req.Stdout)
	session, err := client.StartCommand(remoteCommand(req), output, req.Stderr)
	if err != nil {
		return nil, err
	}
	p := &remoteProcess{host: req.Host, session: session, client: client, output: output}
	go func() {
		<-ctx.Done()
		p.Kill()
	}()
	return p, nil
}

// remoteCommand builds the shell command line starting a worker on a remote host
func remoteCommand(req SpawnRequest) string {
	var b strings.Builder
	b.WriteString("echo " + remotePIDMarker + "$$ && ")
	if req.WorkingDirectory != "" {
		b.WriteString("cd ")
		b.WriteString(shellquote.Join(req.WorkingDirectory))
		b.WriteString(" && ")
	}
	b.WriteString("exec env ")
	if env := envList(req.Env); len(env) > 0 {
		b.WriteString(shellquote.Join(env...))
		b.WriteString(" ")
	}
	b.WriteString(shellquote.Join(req.Command...))
	return b.String()
}

// Pid returns the pid of the worker on its remote host, 0 until it is known
func (p *remoteProcess) Pid() int {
	return p.output.PID()
}

func (p *remoteProcess) Wait() (int, error) {
	defer p.session.Close()
	code, err := p.session.Wait()
	p.lock.Lock()
	p.exited = true
	p.lock.Unlock()
	p.output.Flush()
	return code, err
}

func (p *remoteProcess) Terminate() error {
	return p.signal(ssh.SIGTERM)
}

func (p *remoteProcess) Kill() error {
	err := p.signal(ssh.SIGKILL)
	if cerr := p.session.Close(); err == nil {
		err = cerr
	}
	return err
}

func (p *remoteProcess) signal(sig ssh.Signal) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.exited {
		// the pid may have been reused
		return nil
	}
	if pid := p.output.PID(); pid > 0 {
		err := sshutil.SignalProcessGroup(p.client, pid, sig)
		if err == nil {
			return nil
		}
		log.Debugf("failed to send %s to worker %d on %s, falling back to SSH signal: %v", sig, pid, p.host, err)
	}
	return p.session.Signal(sig)
}

// pidWriter extracts the pid announced on the first output line of a remote worker
// and forwards everything else to the underlying writer
type pidWriter struct {
	lock    sync.Mutex
	w       io.Writer
	buf     bytes.Buffer
	scanned bool
	pid     int
}

func newPIDWriter(w io.Writer) *pidWriter {
	if w == nil {
		w = ioutil.Discard
	}
	return &pidWriter{w: w}
}

func (pw *pidWriter) Write(p []byte) (int, error) {
	pw.lock.Lock()
	defer pw.lock.Unlock()
	if pw.scanned {
		return pw.w.Write(p)
	}
	pw.buf.Write(p)
	content := pw.buf.Bytes()
	idx := bytes.IndexByte(content, '\n')
	if idx < 0 && len(content) <= len(remotePIDMarker)+20 {
		return len(p), nil
	}
	rest := content
	if idx >= 0 {
		if line := strings.TrimSpace(string(content[:idx])); strings.HasPrefix(line, remotePIDMarker) {
			pw.pid, _ = strconv.Atoi(strings.TrimPrefix(line, remotePIDMarker))
			rest = content[idx+1:]
		}
	}
	pw.scanned = true
	pw.buf = bytes.Buffer{}
	if len(rest) > 0 {
		if _, err := pw.w.Write(rest); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Flush forwards output kept while looking for the pid
func (pw *pidWriter) Flush() {
	pw.lock.Lock()
	defer pw.lock.Unlock()
	if pw.scanned {
		return
	}
	pw.scanned = true
	if pw.buf.Len() > 0 {
		pw.w.Write(pw.buf.Bytes())
		pw.buf.Reset()
	}
}

// PID returns the announced pid, 0 if not known yet
func (pw *pidWriter) PID() int {
	pw.lock.Lock()
	defer pw.lock.Unlock()
	return pw.pid
}
