// Copyright 2026 Gravitational, Inc
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

package shell

import (
	"github.com/google/shlex"

	"github.com/gravitational/trace"
)

// Tokenize splits a shell line into words, honoring single and double
// quoting and backslash escapes inside double quotes, the way a POSIX
// shell would before it looks up the first word in a command table. It
// never expands variables or globs — that would be actual shell behavior,
// which this interpreter deliberately never provides.
func Tokenize(line string) ([]string, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return tokens, nil
}
