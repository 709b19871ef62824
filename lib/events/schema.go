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

package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/gravitational/trace"
)

// Table and column names match the schema documented in spec.md §6. The
// migration runner that creates these tables is an external collaborator;
// this package only reads and writes rows through it.
const (
	tableAuth         = "auth"
	tableCommands     = "commands"
	tableSessions     = "sessions"
	tableUploadedFile = "uploaded_files"
	tableConnTrack    = "conn_track"
	tableAbuseCache   = "abuse_ip_cache"
	tableIpapiCache   = "ipapi_cache"
)

func (p *Pipeline) insertAuth(ctx context.Context, a Auth) (uuid.UUID, error) {
	const q = `INSERT INTO ` + tableAuth + ` (
		id, timestamp, ip, username, auth_type, password, public_key,
		successful, abuseipdb_data, ipapi_data
	) VALUES ($1, $2, $3::inet, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb)`

	var password, pubkey any
	if a.Password != "" {
		password = a.Password
	}
	if len(a.PublicKey) > 0 {
		pubkey = a.PublicKey
	}

	err := p.withRetry(ctx, "insert auth", func(ctx context.Context) error {
		_, err := p.cfg.DB.Exec(ctx, q,
			a.ID, a.Timestamp, a.IP.String(), a.Username, string(a.AuthType),
			password, pubkey, a.Successful, nullableJSON(a.AbuseIPDBSnapshot), nullableJSON(a.IPAPISnapshot),
		)
		return trace.Wrap(err)
	})
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	return a.ID, nil
}

func (p *Pipeline) insertCommand(ctx context.Context, c Command) error {
	const q = `INSERT INTO ` + tableCommands + ` (id, auth_id, timestamp, command) VALUES ($1, $2, $3, $4)`
	return p.withRetry(ctx, "insert command", func(ctx context.Context) error {
		_, err := p.cfg.DB.Exec(ctx, q, c.ID, c.AuthID, c.Timestamp, c.Command)
		return trace.Wrap(err)
	})
}

func (p *Pipeline) insertSession(ctx context.Context, s Session) error {
	const q = `INSERT INTO ` + tableSessions + ` (
		id, auth_id, start_time, end_time, duration_seconds
	) VALUES ($1, $2, $3, $4, $5)`
	return p.withRetry(ctx, "insert session", func(ctx context.Context) error {
		_, err := p.cfg.DB.Exec(ctx, q, s.ID, s.AuthID, s.Start, s.End, s.DurationSeconds)
		return trace.Wrap(err)
	})
}

func (p *Pipeline) insertUploadedFile(ctx context.Context, u UploadedFile) (uuid.UUID, error) {
	const q = `INSERT INTO ` + tableUploadedFile + ` (
		id, auth_id, timestamp, filename, filepath, file_size, file_hash,
		claimed_mime_type, detected_mime_type, format_mismatch, file_entropy, binary_data
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	err := p.withRetry(ctx, "insert uploaded_file", func(ctx context.Context) error {
		_, err := p.cfg.DB.Exec(ctx, q,
			u.ID, u.AuthID, u.Timestamp, u.Filename, u.Filepath, u.FileSize, u.FileHash,
			u.ClaimedMIME, u.DetectedMIME, u.FormatMismatch, u.FileEntropy, u.Data,
		)
		return trace.Wrap(err)
	})
	if err != nil {
		return uuid.Nil, trace.Wrap(err)
	}
	return u.ID, nil
}

func (p *Pipeline) insertConnTrack(ctx context.Context, c ConnTrack) error {
	const q = `INSERT INTO ` + tableConnTrack + ` (id, timestamp, ip) VALUES ($1, $2, $3::inet)`
	return p.withRetry(ctx, "insert conn_track", func(ctx context.Context) error {
		_, err := p.cfg.DB.Exec(ctx, q, c.ID, c.Timestamp, c.IP.String())
		return trace.Wrap(err)
	})
}

func (p *Pipeline) insertCacheFill(ctx context.Context, c CacheFill) error {
	switch c.Kind {
	case CacheAbuseIPDB:
		const q = `INSERT INTO ` + tableAbuseCache + ` (
			ip, timestamp, abuse_confidence_score, country_code, is_tor, is_whitelisted, total_reports, response_data
		) VALUES ($1::inet, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (ip) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			abuse_confidence_score = EXCLUDED.abuse_confidence_score,
			country_code = EXCLUDED.country_code,
			is_tor = EXCLUDED.is_tor,
			is_whitelisted = EXCLUDED.is_whitelisted,
			total_reports = EXCLUDED.total_reports,
			response_data = EXCLUDED.response_data`
		return p.withRetry(ctx, "insert abuse_ip_cache", func(ctx context.Context) error {
			_, err := p.cfg.DB.Exec(ctx, q,
				c.IP.String(), c.Timestamp,
				intField(c.Fields, "abuse_confidence_score"),
				strField(c.Fields, "country_code"),
				boolField(c.Fields, "is_tor"),
				boolField(c.Fields, "is_whitelisted"),
				intField(c.Fields, "total_reports"),
				c.Raw,
			)
			return trace.Wrap(err)
		})
	case CacheIPAPI:
		const q = `INSERT INTO ` + tableIpapiCache + ` (
			ip, timestamp, country, country_code, region, region_name, city, zip,
			lat, lon, timezone, isp, org, as_info, response_data
		) VALUES ($1::inet, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::jsonb)
		ON CONFLICT (ip) DO UPDATE SET
			timestamp = EXCLUDED.timestamp,
			country = EXCLUDED.country,
			country_code = EXCLUDED.country_code,
			region = EXCLUDED.region,
			region_name = EXCLUDED.region_name,
			city = EXCLUDED.city,
			zip = EXCLUDED.zip,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			timezone = EXCLUDED.timezone,
			isp = EXCLUDED.isp,
			org = EXCLUDED.org,
			as_info = EXCLUDED.as_info,
			response_data = EXCLUDED.response_data`
		return p.withRetry(ctx, "insert ipapi_cache", func(ctx context.Context) error {
			_, err := p.cfg.DB.Exec(ctx, q,
				c.IP.String(), c.Timestamp,
				strField(c.Fields, "country"), strField(c.Fields, "country_code"),
				strField(c.Fields, "region"), strField(c.Fields, "region_name"),
				strField(c.Fields, "city"), strField(c.Fields, "zip"),
				floatField(c.Fields, "lat"), floatField(c.Fields, "lon"),
				strField(c.Fields, "timezone"), strField(c.Fields, "isp"),
				strField(c.Fields, "org"), strField(c.Fields, "as_info"),
				c.Raw,
			)
			return trace.Wrap(err)
		})
	default:
		return trace.BadParameter("unknown cache kind %q", c.Kind)
	}
}

func (p *Pipeline) sweepExpiredCache(ctx context.Context, cutoff time.Time) error {
	return p.withRetry(ctx, "sweep cache", func(ctx context.Context) error {
		if _, err := p.cfg.DB.Exec(ctx, `DELETE FROM `+tableAbuseCache+` WHERE timestamp < $1`, cutoff); err != nil {
			return trace.Wrap(err)
		}
		if _, err := p.cfg.DB.Exec(ctx, `DELETE FROM `+tableIpapiCache+` WHERE timestamp < $1`, cutoff); err != nil {
			return trace.Wrap(err)
		}
		return nil
	})
}

// LookupAbuseCache reads a cache row without going through the actor queue:
// pgxpool.Pool is safe for concurrent reads, and only PP's pool is used, so
// the "sole connection pool owner" invariant still holds.
func (p *Pipeline) LookupAbuseCache(ctx context.Context, ip string) (*AbuseCacheRow, bool, error) {
	const q = `SELECT timestamp, abuse_confidence_score, country_code, is_tor, is_whitelisted, total_reports, response_data
		FROM ` + tableAbuseCache + ` WHERE ip = $1::inet`

	row := &AbuseCacheRow{}
	err := p.cfg.DB.QueryRow(ctx, q, ip).Scan(
		&row.Timestamp, &row.AbuseConfidenceScore, &row.CountryCode,
		&row.IsTor, &row.IsWhitelisted, &row.TotalReports, &row.ResponseData,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, trace.Wrap(err)
	}
	return row, true, nil
}

// LookupIPAPICache reads a cache row, see LookupAbuseCache.
func (p *Pipeline) LookupIPAPICache(ctx context.Context, ip string) (*IPAPICacheRow, bool, error) {
	const q = `SELECT timestamp, country, country_code, region, region_name, city, zip,
		lat, lon, timezone, isp, org, as_info, response_data
		FROM ` + tableIpapiCache + ` WHERE ip = $1::inet`

	row := &IPAPICacheRow{}
	err := p.cfg.DB.QueryRow(ctx, q, ip).Scan(
		&row.Timestamp, &row.Country, &row.CountryCode, &row.Region, &row.RegionName,
		&row.City, &row.Zip, &row.Lat, &row.Lon, &row.Timezone, &row.ISP, &row.Org, &row.AS,
		&row.ResponseData,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, trace.Wrap(err)
	}
	return row, true, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(int); ok {
		return v
	}
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func floatField(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func strField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
