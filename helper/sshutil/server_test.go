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
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
)

type execCommandHandler func(string) (string, uint32)

func defaultExecCommandHandler(command string) (string, uint32) {
	return command, 0
}

// newServer starts an in-process SSH server answering "exec" requests with the given handler
func newServer(ctx context.Context, handler execCommandHandler) (net.Addr, error) {
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == "testuser" {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		},
	}
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	privateSigner, err := ssh.NewSignerFromKey(private)
	if err != nil {
		return nil, err
	}
	config.AddHostKey(privateSigner)
	if handler == nil {
		handler = defaultExecCommandHandler
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:")
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	go func() {
		for {
			nConn, err := listener.Accept()
			if err != nil {
				return
			}
			conn, chans, reqs, err := ssh.NewServerConn(nConn, config)
			if err != nil {
				continue
			}
			go ssh.DiscardRequests(reqs)
			go serveChannels(ctx, conn, chans, handler)
		}
	}()
	return listener.Addr(), nil
}

func serveChannels(ctx context.Context, conn *ssh.ServerConn, chans <-chan ssh.NewChannel, handler execCommandHandler) {
	defer conn.Close()
	for {
		var newChannel ssh.NewChannel
		select {
		case newChannel = <-chans:
		case <-ctx.Done():
			return
		}
		if newChannel == nil {
			return
		}
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				switch req.Type {
				case "exec":
					req.Reply(true, nil)
					var payload = struct{ Command string }{}
					ssh.Unmarshal(req.Payload, &payload)

					result, status := handler(payload.Command)
					channel.Write([]byte(result))

					b := make([]byte, 4)
					binary.BigEndian.PutUint32(b, status)
					channel.SendRequest("exit-status", false, b)
					channel.CloseWrite()
					channel.Close()
				default:
					req.Reply(false, nil)
				}
			}
		}(requests)
	}
}
