package shm

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOIEB() OIEB {
	return OIEB{
		OIEBSize:             OIEBSize,
		Version:              CurrentVersion,
		MetadataSize:         256,
		MetadataFreeBytes:    210,
		MetadataWrittenBytes: 46,
		PayloadSize:          1024,
		PayloadFreeBytes:     376,
		PayloadWritePos:      648,
		PayloadReadPos:       0,
		PayloadWrittenCount:  3,
		PayloadReadCount:     0,
		WriterPID:            4242,
		ReaderPID:            4343,
	}
}

func TestOIEBWireLayout(t *testing.T) {
	b, err := sampleOIEB().MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 128)

	le := binary.LittleEndian
	assert.Equal(t, uint32(128), le.Uint32(b[0:]))
	assert.Equal(t, []byte{1, 0, 0, 0}, b[4:8])
	assert.Equal(t, uint64(256), le.Uint64(b[8:]))
	assert.Equal(t, uint64(210), le.Uint64(b[16:]))
	assert.Equal(t, uint64(46), le.Uint64(b[24:]))
	assert.Equal(t, uint64(1024), le.Uint64(b[32:]))
	assert.Equal(t, uint64(376), le.Uint64(b[40:]))
	assert.Equal(t, uint64(648), le.Uint64(b[48:]))
	assert.Equal(t, uint64(0), le.Uint64(b[56:]))
	assert.Equal(t, uint64(3), le.Uint64(b[64:]))
	assert.Equal(t, uint64(0), le.Uint64(b[72:]))
	assert.Equal(t, uint64(4242), le.Uint64(b[80:]))
	assert.Equal(t, uint64(4343), le.Uint64(b[88:]))
	assert.Equal(t, make([]byte, 32), b[96:])

	var back OIEB
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, sampleOIEB(), back)
	assert.Error(t, back.UnmarshalBinary(b[:127]))
}

func TestOIEBLiveViewMatchesCodec(t *testing.T) {
	words := make([]uint64, OIEBSize/8)
	view := oiebView{mem: unsafeBytes(words)}
	view.init(256, 1024, RoleReader, 77)

	var decoded OIEB
	require.NoError(t, decoded.UnmarshalBinary(view.mem))
	assert.Equal(t, view.snapshot(), decoded)
	assert.Equal(t, uint32(OIEBSize), decoded.OIEBSize)
	assert.Equal(t, uint64(77), decoded.ReaderPID)
	assert.Equal(t, uint64(1024), decoded.PayloadFreeBytes)
	assert.Empty(t, decoded.Validate())

	view.add(offPayloadFreeBytes, 10)
	view.sub(offPayloadFreeBytes, 30)
	assert.Equal(t, uint64(1004), view.load(offPayloadFreeBytes))
}

func TestOIEBValidate(t *testing.T) {
	assert.Empty(t, sampleOIEB().Validate())

	o := sampleOIEB()
	o.OIEBSize = 64
	problems := o.Validate()
	require.Len(t, problems, 1)
	assert.Equal(t, "ERROR: oieb_size: expected 128, got 64", problems[0].String())
	assert.True(t, HasErrors(problems))

	o = sampleOIEB()
	o.PayloadWritePos = 1024
	o.PayloadReadPos = 2048
	o.PayloadFreeBytes = 2000
	o.PayloadReadCount = 4
	o.MetadataFreeBytes = 0
	fields := map[string]bool{}
	for _, p := range o.Validate() {
		assert.Equal(t, SeverityError, p.Severity)
		fields[p.Field] = true
	}
	for _, f := range []string{"payload_write_pos", "payload_read_pos", "payload_free_bytes",
		"payload_read_count", "metadata_free_bytes + metadata_written_bytes"} {
		assert.True(t, fields[f], f)
	}

	o = sampleOIEB()
	o.Version.Major = 2
	o.Reserved[3] = 1
	problems = o.Validate()
	require.Len(t, problems, 2)
	assert.False(t, HasErrors(problems))

	o = sampleOIEB()
	o.PayloadSize = 0
	o.MetadataSize = 0
	o.MetadataFreeBytes = 0
	o.MetadataWrittenBytes = 0
	o.PayloadFreeBytes = 0
	fields = map[string]bool{}
	for _, p := range o.Validate() {
		fields[p.Field] = true
	}
	assert.True(t, fields["payload_size"])
	assert.True(t, fields["metadata_size"])
}

func TestOIEBPending(t *testing.T) {
	o := sampleOIEB()
	assert.Equal(t, uint64(3), o.Pending())
	o.PayloadReadCount = 5
	assert.Equal(t, uint64(0), o.Pending())
}

func TestFrameHeaderCodec(t *testing.T) {
	b := make([]byte, FrameHeaderSize)
	encodeFrameHeader(b, frameHeader{kind: recordFrame, sequence: 9, length: 300})
	h := decodeFrameHeader(b)
	assert.Equal(t, recordFrame, h.kind)
	assert.Equal(t, uint64(9), h.sequence)
	assert.Equal(t, uint64(300), h.length)

	encodeFrameHeader(b, frameHeader{kind: recordWrapMarker, sequence: 10, length: 300})
	h = decodeFrameHeader(b)
	assert.Equal(t, recordWrapMarker, h.kind)
	assert.Equal(t, uint64(0), binary.LittleEndian.Uint64(b[8:]))
}

func TestSegmentGeometry(t *testing.T) {
	assert.Equal(t, uint64(128+256+1024), SegmentSize(256, 1024))
	assert.Equal(t, uint64(128+64+256), SegmentSize(8, 256))
	assert.Equal(t, uint64(192), payloadOffset(1))
	assert.Equal(t, "sem-w-cam", dataSemName("cam"))
	assert.Equal(t, "sem-r-cam", spaceSemName("cam"))
}
