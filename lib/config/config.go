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

// Package config resolves the flag/env/default layer of the CLI surface
// described in spec.md §6. The CLI → file → env → defaults chain beyond
// flags and environment variables is out of scope per spec.md §1; an
// on-disk config file, if named via --config, is treated as an external
// collaborator this package does not parse.
package config

import (
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
)

// Config is the fully resolved set of values the CLI surface in
// spec.md §6 accepts, after flags have been parsed (flags win over the
// environment variables bound alongside them).
type Config struct {
	// Interfaces is the set of addresses the listener binds. When left
	// empty, CheckAndSetDefaults fills in both the IPv4 and IPv6 wildcard
	// addresses, so a dual-stack host listens on both families by default.
	Interfaces             []string
	DatabaseURL            string
	ConfigFile             string
	DisableCLIInterface    bool
	AuthenticationBanner   string
	Tarpit                 bool
	DisableBaseTarGzLoad   bool
	BaseTarGzPath          string
	KeyFolder              string
	EnableSFTP             bool
	AbuseIPDBAPIKey        string
	AbuseIPCacheCleanupHrs int
	AbuseIPCacheCleanup    time.Duration
	RejectAllAuth          bool
	DisableIPAPI           bool
}

// CheckAndSetDefaults fills in every value the CLI surface allows the
// operator to omit, the same shape AuthHandlerConfig.CheckAndSetDefaults
// uses for its own component.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Interfaces) == 0 {
		c.Interfaces = []string{"0.0.0.0:2222", "[::]:2222"}
	}
	if c.DatabaseURL == "" {
		return trace.BadParameter("config: --database-url is required")
	}
	if c.AbuseIPCacheCleanupHrs <= 0 {
		c.AbuseIPCacheCleanupHrs = 24
	}
	c.AbuseIPCacheCleanup = time.Duration(c.AbuseIPCacheCleanupHrs) * time.Hour
	if c.BaseTarGzPath == "" {
		c.BaseTarGzPath = "/etc/sshtrap/base.tar.gz"
	}
	return nil
}

// Parse binds the CLI surface from spec.md §6 onto a kingpin.Application
// and parses args (normally os.Args[1:]), returning the resolved Config.
// A kingpin usage or parse error is classified as an invalid-CLI failure
// by the caller (exit code 2 per spec.md §6).
func Parse(appName, appHelp string, args []string) (*Config, error) {
	app := kingpin.New(appName, appHelp)
	cfg := &Config{}

	app.Flag("interface", "Address to listen on for incoming SSH connections; repeatable. Defaults to both 0.0.0.0:2222 and [::]:2222.").
		Envar("SSHTRAP_INTERFACE").
		StringsVar(&cfg.Interfaces)

	app.Flag("database-url", "PostgreSQL connection string for the persistence pipeline.").
		Envar("SSHTRAP_DATABASE_URL").
		StringVar(&cfg.DatabaseURL)

	app.Flag("config", "Path to a configuration file.").
		Envar("SSHTRAP_CONFIG").
		StringVar(&cfg.ConfigFile)

	app.Flag("disable-cli-interface", "Accepted and stored; sshtrap has no interactive management interface, so this has no effect.").
		Envar("SSHTRAP_DISABLE_CLI_INTERFACE").
		BoolVar(&cfg.DisableCLIInterface)

	app.Flag("authentication-banner", "Pre-authentication SSH banner shown to peers.").
		Envar("SSHTRAP_AUTHENTICATION_BANNER").
		StringVar(&cfg.AuthenticationBanner)

	app.Flag("tarpit", "Enable the bounded random delay on outbound traffic.").
		Envar("SSHTRAP_TARPIT").
		Default("true").
		BoolVar(&cfg.Tarpit)

	app.Flag("disable-base-tar-gz-loading", "Accepted and stored; no archive is loaded, the simulated filesystem is always the built-in default tree.").
		Envar("SSHTRAP_DISABLE_BASE_TAR_GZ_LOADING").
		BoolVar(&cfg.DisableBaseTarGzLoad)

	app.Flag("base-tar-gz-path", "Path of a simulated filesystem archive; stored but never read, the built-in default tree is always served.").
		Envar("SSHTRAP_BASE_TAR_GZ_PATH").
		StringVar(&cfg.BaseTarGzPath)

	app.Flag("key-folder", "Directory containing the SSH host keys to load.").
		Envar("SSHTRAP_KEY_FOLDER").
		StringVar(&cfg.KeyFolder)

	app.Flag("enable-sftp", "Enable the SFTP subsystem.").
		Envar("SSHTRAP_ENABLE_SFTP").
		Default("true").
		BoolVar(&cfg.EnableSFTP)

	app.Flag("abuse-ip-db-api-key", "AbuseIPDB API key.").
		Envar("SSHTRAP_ABUSE_IP_DB_API_KEY").
		StringVar(&cfg.AbuseIPDBAPIKey)

	app.Flag("abuse-ip-cache-cleanup-hours", "Hours between sweeps of expired intelligence cache rows.").
		Envar("SSHTRAP_ABUSE_IP_CACHE_CLEANUP_HOURS").
		Default("24").
		IntVar(&cfg.AbuseIPCacheCleanupHrs)

	app.Flag("reject-all-auth", "Reject every authentication attempt instead of accepting all of them.").
		Envar("SSHTRAP_REJECT_ALL_AUTH").
		BoolVar(&cfg.RejectAllAuth)

	app.Flag("disable-ipapi", "Disable the IPAPI intelligence pipeline.").
		Envar("SSHTRAP_DISABLE_IPAPI").
		BoolVar(&cfg.DisableIPAPI)

	if _, err := app.Parse(args); err != nil {
		return nil, trace.Wrap(err)
	}

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	return cfg, nil
}
