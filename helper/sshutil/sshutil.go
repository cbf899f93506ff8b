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

package sshutil

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/ystia/hpclaunch/log"
)

// DefaultDialTimeout is the default timeout used to open an SSH connection
const DefaultDialTimeout = 30 * time.Second

// Client is interface allowing running command
type Client interface {
	RunCommand(string) (string, error)
}

// SignalProcessGroup sends the given signal to a process group of the remote host.
//
// If pgid is not a process group leader, the signal is sent to the process only.
func SignalProcessGroup(client Client, pgid int, sig ssh.Signal) error {
	if pgid <= 0 {
		return errors.Errorf("invalid process group %d", pgid)
	}
	cmd := fmt.Sprintf("kill -%[1]s -- -%[2]d 2>/dev/null || kill -%[1]s %[2]d", sig, pgid)
	out, err := client.RunCommand(cmd)
	return errors.Wrapf(err, "failed to send signal %s to remote process %d: %s", sig, pgid, strings.TrimSpace(out))
}

// SSHClient is a client SSH
type SSHClient struct {
	Config *ssh.ClientConfig
	Host   string
	Port   int
}

// Session is a command started on a remote host.
//
// The underlying connection is dedicated to the session and is closed when the session is closed.
type Session struct {
	conn    *ssh.Client
	session *ssh.Session
}

// RunCommand allows to run a specified command
func (client *SSHClient) RunCommand(cmd string) (string, error) {
	s, err := client.newSession()
	if err != nil {
		return "", err
	}
	defer s.Close()
	var b bytes.Buffer
	s.session.Stderr = &b
	s.session.Stdout = &b

	log.Debugf("[SSHSession] %q", cmd)
	err = s.session.Run(cmd)
	return b.String(), err
}

// StartCommand starts the given command on the remote host without waiting for it to complete.
//
// The remote command stdout and stderr are copied into the given writers.
func (client *SSHClient) StartCommand(cmd string, stdout, stderr io.Writer) (*Session, error) {
	s, err := client.newSession()
	if err != nil {
		return nil, err
	}
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	log.Debugf("[SSHSession] starting %q on %s", cmd, client.address())
	if err = s.session.Start(cmd); err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "failed to start command on %s", client.address())
	}
	return s, nil
}

func (client *SSHClient) address() string {
	return net.JoinHostPort(client.Host, strconv.Itoa(client.Port))
}

func (client *SSHClient) newSession() (*Session, error) {
	connection, err := ssh.Dial("tcp", client.address(), client.Config)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to open SSH connection to %s", client.address())
	}

	session, err := connection.NewSession()
	if err != nil {
		connection.Close()
		return nil, errors.Wrap(err, "Failed to create session")
	}

	return &Session{conn: connection, session: session}, nil
}

// Wait waits for the remote command to exit and returns its exit status.
//
// A remote command killed by a signal gets the shell convention exit code 128+signal
// when the signal is known. An error is returned if the exit status could not be retrieved.
func (s *Session) Wait() (int, error) {
	err := s.session.Wait()
	switch e := err.(type) {
	case nil:
		return 0, nil
	case *ssh.ExitError:
		if e.Signal() != "" {
			if num, ok := signalNumbers[ssh.Signal(e.Signal())]; ok {
				return 128 + num, nil
			}
		}
		return e.ExitStatus(), nil
	default:
		return -1, errors.Wrap(err, "remote command exited without status")
	}
}

// Signal sends the given signal to the remote process.
//
// Servers like OpenSSH before 8.1 ignore signal requests and closing a session without terminal
// does not stop the remote command either, SignalProcessGroup should be preferred.
func (s *Session) Signal(sig ssh.Signal) error {
	return errors.Wrapf(s.session.Signal(sig), "failed to send signal %s", sig)
}

// Close closes the session and its underlying connection
func (s *Session) Close() error {
	s.session.Close()
	return s.conn.Close()
}

var signalNumbers = map[ssh.Signal]int{
	ssh.SIGHUP:  1,
	ssh.SIGINT:  2,
	ssh.SIGQUIT: 3,
	ssh.SIGILL:  4,
	ssh.SIGABRT: 6,
	ssh.SIGFPE:  8,
	ssh.SIGKILL: 9,
	ssh.SIGSEGV: 11,
	ssh.SIGPIPE: 13,
	ssh.SIGALRM: 14,
	ssh.SIGTERM: 15,
}

// String implements fmt.Stringer
func (client *SSHClient) String() string {
	if client.Config == nil {
		return client.address()
	}
	return fmt.Sprintf("%s@%s", client.Config.User, client.address())
}
