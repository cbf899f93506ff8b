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
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// lineWriter re-emits every line written into it through a logger
type lineWriter struct {
	lock sync.Mutex
	emit func(msg string, args ...interface{})
	buf  bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.buf.Write(p)
	for {
		b := w.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(b[:i], "\r")))
		w.buf.Next(i + 1)
	}
	return len(p), nil
}

// Close flushes a remaining incomplete line
func (w *lineWriter) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

// newWorkerOutput returns writers re-emitting stdout and stderr lines of a rank through a named logger
func newWorkerOutput(logger hclog.Logger, rank int) (*lineWriter, *lineWriter) {
	l := logger.Named(fmt.Sprintf("rank-%d", rank))
	return &lineWriter{emit: l.Info}, &lineWriter{emit: l.Warn}
}

func defaultWorkerLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "worker",
		Level: hclog.Info,
	})
}
