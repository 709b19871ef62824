package sftpsrv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimedMIMEFromExtension(t *testing.T) {
	require.Equal(t, "application/pdf", claimedMIME("report.pdf"))
	require.Equal(t, "text/plain", claimedMIME("notes.txt"))
	require.Equal(t, "application/octet-stream", claimedMIME("noext"))
}

func TestDetectedMIMEFromMagicBytes(t *testing.T) {
	require.Equal(t, "application/x-dosexec", detectedMIME([]byte("MZ\x90\x00\x03\x00\x00\x00")))
	require.Equal(t, "application/pdf", detectedMIME([]byte("%PDF-1.4\n")))
	require.Equal(t, "application/zip", detectedMIME([]byte("PK\x03\x04")))
}

func TestDetectedMIMEFallsBackToTextOrBinary(t *testing.T) {
	require.Equal(t, "text/plain", detectedMIME([]byte("hello world\n")))
	require.Equal(t, "application/octet-stream", detectedMIME([]byte{0x00, 0x01, 0x02, 0x03}))
}

func TestFormatMismatchDetectsDisguisedExecutable(t *testing.T) {
	claimed := claimedMIME("report.pdf")
	detected := detectedMIME([]byte("MZ\x90\x00\x03\x00\x00\x00"))
	require.True(t, formatMismatch(claimed, detected))
}

func TestFormatMismatchAgreesWhenGenuine(t *testing.T) {
	claimed := claimedMIME("report.pdf")
	detected := detectedMIME([]byte("%PDF-1.4\n"))
	require.False(t, formatMismatch(claimed, detected))
}

func TestFormatMismatchToleratesUnknownDetection(t *testing.T) {
	claimed := claimedMIME("report.bin")
	detected := detectedMIME([]byte{0x00, 0x01, 0x02})
	require.False(t, formatMismatch(claimed, detected))
}
