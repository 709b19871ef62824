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

// Package events defines the typed event sum the persistence pipeline
// consumes, and the Pipeline interface session-side components use to
// submit them.
package events

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// AuthType enumerates the SSH authentication methods a peer may attempt.
type AuthType string

const (
	AuthPassword            AuthType = "password"
	AuthPublicKey           AuthType = "publickey"
	AuthNone                AuthType = "none"
	AuthKeyboardInteractive AuthType = "keyboard-interactive"
)

// Auth is materialized for every authentication decision, accepted or
// rejected. It is immutable once written.
type Auth struct {
	ID                uuid.UUID
	Timestamp         time.Time
	IP                net.IP
	Username          string
	AuthType          AuthType
	Password          string // empty when AuthType != AuthPassword
	PublicKey         []byte // empty when AuthType != AuthPublicKey
	Successful        bool
	AbuseIPDBSnapshot []byte // raw JSON, nil if no snapshot was available in time
	IPAPISnapshot     []byte // raw JSON, nil if no snapshot was available in time
}

// Command is emitted whenever the shell interpreter dispatches a non-empty
// line.
type Command struct {
	ID        uuid.UUID
	AuthID    uuid.UUID
	Timestamp time.Time
	Command   string
}

// Session is emitted exactly once, at connection close, for every
// successful Auth.
type Session struct {
	ID              uuid.UUID
	AuthID          uuid.UUID
	Start           time.Time
	End             time.Time
	DurationSeconds int64
}

// UploadedFile is emitted on SFTP CLOSE of a write handle that received at
// least one byte.
type UploadedFile struct {
	ID             uuid.UUID
	AuthID         uuid.UUID
	Timestamp      time.Time
	Filename       string
	Filepath       string
	FileSize       int64
	FileHash       string
	ClaimedMIME    string
	DetectedMIME   string
	FormatMismatch bool
	FileEntropy    float64
	Data           []byte
	Truncated      bool
}

// ConnTrack is emitted for every accepted TCP connection, before the SSH
// handshake completes.
type ConnTrack struct {
	ID        uuid.UUID
	Timestamp time.Time
	IP        net.IP
}

// CacheKind distinguishes the two independent IIC pipelines.
type CacheKind string

const (
	CacheAbuseIPDB CacheKind = "abuseipdb"
	CacheIPAPI     CacheKind = "ipapi"
)

// CacheFill persists a fresh upstream lookup result into the appropriate
// table-backed cache.
type CacheFill struct {
	Kind      CacheKind
	IP        net.IP
	Timestamp time.Time
	Fields    map[string]any
	Raw       []byte // full JSON response
}

// AbuseCacheRow is a hydrated row from abuse_ip_cache.
type AbuseCacheRow struct {
	IP                  net.IP
	Timestamp           time.Time
	AbuseConfidenceScore int
	CountryCode         string
	IsTor               bool
	IsWhitelisted       bool
	TotalReports        int
	ResponseData        []byte
}

// IPAPICacheRow is a hydrated row from ipapi_cache.
type IPAPICacheRow struct {
	IP           net.IP
	Timestamp    time.Time
	Country      string
	CountryCode  string
	Region       string
	RegionName   string
	City         string
	Zip          string
	Lat          float64
	Lon          float64
	Timezone     string
	ISP          string
	Org          string
	AS           string
	ResponseData []byte
}
