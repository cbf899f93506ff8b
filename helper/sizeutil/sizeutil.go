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

package sizeutil

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// ConvertToBytes allows to convert a MB size as "42" or a human readable size as "42MB" or "16 GiB" into bytes
func ConvertToBytes(size string) (uint64, error) {
	// Default size unit is MB
	mSize, err := strconv.ParseUint(size, 10, 64)
	if err == nil {
		return mSize * humanize.MByte, nil
	}
	// Not an int value, so maybe a human readable size: we try to retrieve bytes
	bSize, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, errors.Errorf("Can't convert size to bytes value: %v", err)
	}
	return bSize, nil
}
