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
	"io/ioutil"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultSSHPrivateKeyFilePath is the default SSH private Key file path
// used to connect to remote nodes
const DefaultSSHPrivateKeyFilePath = "~/.ssh/id_rsa"

// ReadPrivateKey returns an authentication method relying on private/public key pairs
// The argument is :
// - either a path to the private key file,
// - or the content or this private key file
func ReadPrivateKey(pk string) (ssh.AuthMethod, error) {
	raw, err := ToPrivateKeyContent(pk)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse key file %q", pk)
	}
	return ssh.PublicKeys(signer), nil
}

// ToPrivateKeyContent allows to convert private key content or file to byte array
func ToPrivateKeyContent(pk string) ([]byte, error) {
	keyPath, err := homedir.Expand(pk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand key path")
	}
	if _, err := os.Stat(keyPath); err != nil {
		return []byte(pk), nil
	}
	p, err := ioutil.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key file %q", keyPath)
	}
	return p, nil
}

// HostKeyCallback returns a callback checking host keys against the given known_hosts file.
//
// An empty file name disables host key checking.
func HostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	p, err := homedir.Expand(knownHostsFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand known hosts path")
	}
	cb, err := knownhosts.New(p)
	return cb, errors.Wrapf(err, "failed to load known hosts file %q", p)
}

// NewClientConfig builds the SSH client configuration used to reach remote nodes
func NewClientConfig(user, privateKey, knownHostsFile string) (*ssh.ClientConfig, error) {
	if privateKey == "" {
		privateKey = DefaultSSHPrivateKeyFilePath
	}
	auth, err := ReadPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	hkCallback, err := HostKeyCallback(knownHostsFile)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hkCallback,
		Timeout:         DefaultDialTimeout,
	}, nil
}
