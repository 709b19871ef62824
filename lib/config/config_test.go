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

package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseRequiresDatabaseURL(t *testing.T) {
	_, err := Parse("sshtrap", "test", []string{})
	require.Error(t, err)
}

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := Parse("sshtrap", "test", []string{"--database-url", "postgres://localhost/sshtrap"})
	require.NoError(t, err)

	want := &Config{
		Interfaces:             []string{"0.0.0.0:2222", "[::]:2222"},
		DatabaseURL:            "postgres://localhost/sshtrap",
		Tarpit:                 true,
		EnableSFTP:             true,
		AbuseIPCacheCleanupHrs: 24,
		AbuseIPCacheCleanup:    24 * time.Hour,
		BaseTarGzPath:          "/etc/sshtrap/base.tar.gz",
	}
	require.Empty(t, cmp.Diff(want, cfg))
}

func TestParseHonorsFlagOverrides(t *testing.T) {
	cfg, err := Parse("sshtrap", "test", []string{
		"--database-url", "postgres://localhost/sshtrap",
		"--interface", "127.0.0.1:2022",
		"--interface", "[::1]:2022",
		"--reject-all-auth",
		"--abuse-ip-cache-cleanup-hours", "6",
	})
	require.NoError(t, err)

	want := &Config{
		Interfaces:             []string{"127.0.0.1:2022", "[::1]:2022"},
		DatabaseURL:            "postgres://localhost/sshtrap",
		Tarpit:                 true,
		EnableSFTP:             true,
		RejectAllAuth:          true,
		AbuseIPCacheCleanupHrs: 6,
		AbuseIPCacheCleanup:    6 * time.Hour,
		BaseTarGzPath:          "/etc/sshtrap/base.tar.gz",
	}
	require.Empty(t, cmp.Diff(want, cfg))
}

func TestCheckAndSetDefaultsRejectsEmptyDatabaseURL(t *testing.T) {
	cfg := &Config{}
	err := cfg.CheckAndSetDefaults()
	require.Error(t, err)
}
