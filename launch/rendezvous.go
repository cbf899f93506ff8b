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
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/ystia/hpclaunch/log"
)

const masterDialTimeout = 2 * time.Second

// waitForMaster waits until the coordination endpoint accepts TCP connections
func waitForMaster(ctx context.Context, addr string, port int, timeout time.Duration) error {
	endpoint := net.JoinHostPort(addr, strconv.Itoa(port))
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout

	dial := func() error {
		conn, err := net.DialTimeout("tcp", endpoint, masterDialTimeout)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	notify := func(err error, next time.Duration) {
		log.Debugf("master endpoint %s not ready (%v), retrying in %s", endpoint, err, next)
	}
	err := backoff.RetryNotify(dial, backoff.WithContext(b, ctx), notify)
	return errors.Wrapf(err, "master endpoint %s is not reachable", endpoint)
}
