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

// Package sftpsrv implements the SFTP Subsystem (SFTPS): a pkg/sftp
// request server over the simulated filesystem that captures uploaded
// bytes and performs lightweight threat triage on them.
package sftpsrv

import "math"

// shannonEntropy returns the byte-wise Shannon entropy of b in bits per
// byte, in the range [0, 8]. An empty stream, or one built from a single
// distinct byte value, has zero entropy.
func shannonEntropy(b []byte) float64 {
	if len(b) == 0 {
		return 0
	}

	var freq [256]int
	for _, c := range b {
		freq[c]++
	}

	total := float64(len(b))
	var entropy float64
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
