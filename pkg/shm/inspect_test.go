package shm

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSegmentFile(t *testing.T, o OIEB, size int) string {
	t.Helper()
	b, err := o.MarshalBinary()
	require.NoError(t, err)
	img := make([]byte, size)
	copy(img, b)
	path := filepath.Join(t.TempDir(), "segment")
	require.NoError(t, os.WriteFile(path, img, 0600))
	return path
}

func TestInspectFileValid(t *testing.T) {
	o := sampleOIEB()
	path := writeSegmentFile(t, o, int(SegmentSize(o.MetadataSize, o.PayloadSize)))

	report, err := InspectFile(path)
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Equal(t, o, report.OIEB)

	var out bytes.Buffer
	n, err := report.WriteTo(&out)
	require.NoError(t, err)
	assert.Equal(t, int64(out.Len()), n)
	text := out.String()
	assert.Contains(t, text, "OIEB size field: 128 (should be 128)")
	assert.Contains(t, text, "Payload free: 376 bytes")
	assert.Contains(t, text, "Writer PID: 4242")
	assert.Contains(t, text, "OK: OIEB structure appears valid")
	assert.Contains(t, text, "  000: 80 00 00 00 01 00 00 00 00 01 00 00 00 00 00 00")
	assert.Contains(t, text, "  112: 00 00")
}

func TestInspectFileWrongOIEBSize(t *testing.T) {
	o := sampleOIEB()
	o.OIEBSize = 64
	path := writeSegmentFile(t, o, int(SegmentSize(o.MetadataSize, o.PayloadSize)))

	report, err := InspectFile(path)
	require.NoError(t, err)
	assert.False(t, report.Valid())

	var out bytes.Buffer
	_, err = report.WriteTo(&out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ERROR: oieb_size: expected 128, got 64")
	assert.Contains(t, out.String(), "INVALID")
}

func TestInspectFileTruncatedSegment(t *testing.T) {
	o := sampleOIEB()
	path := writeSegmentFile(t, o, 512)

	report, err := InspectFile(path)
	require.NoError(t, err)
	require.False(t, report.Valid())
	assert.Equal(t, "segment_size", report.Problems[len(report.Problems)-1].Field)
}

func TestInspectFileTooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0600))
	_, err := InspectFile(path)
	assert.Error(t, err)

	_, err = InspectFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInspectLiveBuffer(t *testing.T) {
	w, r := testPair(t, testConfig(256, 1024))
	require.NoError(t, w.WriteMetadata([]byte("caps")))

	report, err := Inspect(w.Name())
	require.NoError(t, err)
	assert.True(t, report.Valid(), "%v", report.Problems)
	assert.Equal(t, w.self, report.OIEB.WriterPID)
	assert.Equal(t, r.self, report.OIEB.ReaderPID)
	assert.Equal(t, int64(SegmentSize(256, 1024)), report.SegmentSize)
	assert.True(t, strings.HasSuffix(report.Path, w.Name()))
}
