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

package sftpsrv

import (
	"bytes"
	"path"
	"strings"
)

// claimedMIME derives a MIME type purely from the filename extension, the
// same way an uploader "claims" a type without the content backing it up.
func claimedMIME(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".txt":
		return "text/plain"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".tar":
		return "application/x-tar"
	case ".gz", ".tgz":
		return "application/gzip"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".sh":
		return "text/x-shellscript"
	case ".py":
		return "text/x-python"
	case ".elf", "":
		return "application/octet-stream"
	case ".exe", ".dll":
		return "application/x-dosexec"
	default:
		return "application/octet-stream"
	}
}

// magicSignature is one recognizable leading-byte pattern.
type magicSignature struct {
	prefix []byte
	mime   string
}

var magicSignatures = []magicSignature{
	{[]byte("MZ"), "application/x-dosexec"},
	{[]byte("\x7fELF"), "application/x-executable"},
	{[]byte("%PDF"), "application/pdf"},
	{[]byte("PK\x03\x04"), "application/zip"},
	{[]byte{0x1f, 0x8b}, "application/gzip"},
	{[]byte("\x89PNG\r\n\x1a\n"), "image/png"},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("#!/"), "text/x-shellscript"},
	{[]byte("ustar"), "application/x-tar"},
}

// detectedMIME sniffs the leading bytes of a sample against a small table
// of well-known magic numbers, falling back to a text/binary heuristic.
func detectedMIME(sample []byte) string {
	for _, sig := range magicSignatures {
		if bytes.HasPrefix(sample, sig.prefix) {
			return sig.mime
		}
	}
	if looksLikeText(sample) {
		return "text/plain"
	}
	return "application/octet-stream"
}

func looksLikeText(sample []byte) bool {
	if len(sample) == 0 {
		return true
	}
	n := len(sample)
	if n > 512 {
		n = 512
	}
	for _, b := range sample[:n] {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20 && b != 0x1b) {
			return false
		}
	}
	return true
}

// formatMismatch reports whether the extension-derived claim and the
// magic-byte detection disagree about what the content actually is. Both
// sides have to be specific for a disagreement to count: a generic
// "application/octet-stream" on either side means one of the two methods
// simply couldn't tell, not that they contradict each other.
func formatMismatch(claimed, detected string) bool {
	const generic = "application/octet-stream"
	if claimed == generic || detected == generic {
		return false
	}
	return claimed != detected
}
