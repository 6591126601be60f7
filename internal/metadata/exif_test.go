package metadata

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

type rational [2]uint32

// tiffFixture builds a little-endian TIFF block holding DateTimeOriginal
// and a GPS position, which is what exif.Decode sees inside a JPEG APP1.
func tiffFixture(dateTime string, lat [3]rational, latRef byte, long [3]rational, longRef byte) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 178)
	copy(buf, "II*\x00")
	le.PutUint32(buf[4:], 8)

	entry := func(off int, tag, typ uint16, count, value uint32) {
		le.PutUint16(buf[off:], tag)
		le.PutUint16(buf[off+2:], typ)
		le.PutUint32(buf[off+4:], count)
		le.PutUint32(buf[off+8:], value)
	}

	// IFD0: pointers to the Exif and GPS sub-IFDs.
	le.PutUint16(buf[8:], 2)
	entry(10, 0x8769, 4, 1, 38)
	entry(22, 0x8825, 4, 1, 56)

	// Exif IFD: DateTimeOriginal.
	le.PutUint16(buf[38:], 1)
	entry(40, 0x9003, 2, 20, 110)

	// GPS IFD.
	le.PutUint16(buf[56:], 4)
	entry(58, 0x0001, 2, 2, uint32(latRef))
	entry(70, 0x0002, 5, 3, 130)
	entry(82, 0x0003, 2, 2, uint32(longRef))
	entry(94, 0x0004, 5, 3, 154)

	copy(buf[110:130], dateTime+"\x00")
	for i, r := range lat {
		le.PutUint32(buf[130+i*8:], r[0])
		le.PutUint32(buf[134+i*8:], r[1])
	}
	for i, r := range long {
		le.PutUint32(buf[154+i*8:], r[0])
		le.PutUint32(buf[158+i*8:], r[1])
	}
	return buf
}

func TestExifExtractor_GPSAndTime(t *testing.T) {
	data := tiffFixture(
		"2025:08:01 14:25:00",
		[3]rational{{51, 1}, {29, 1}, {278844, 10000}}, 'N',
		[3]rational{{0, 1}, {16, 1}, {10524, 1000}}, 'W',
	)

	md, err := NewExifExtractor(nil).Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if md.GPS == nil {
		t.Fatal("expected GPS coordinates")
	}
	if math.Abs(md.GPS.Lat-51.491079) > 1e-5 || math.Abs(md.GPS.Long-(-0.269590)) > 1e-5 {
		t.Fatalf("gps = %+v", *md.GPS)
	}
	if md.CapturedAt == nil {
		t.Fatal("expected capture time")
	}
	want := time.Date(2025, 8, 1, 14, 25, 0, 0, time.UTC)
	if !md.CapturedAt.Equal(want) {
		t.Fatalf("captured at %v, want %v", md.CapturedAt, want)
	}
}

func TestExifExtractor_NoExifIsNotAnError(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	md, err := NewExifExtractor(nil).Extract(context.Background(), png)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if md.GPS != nil || md.CapturedAt != nil {
		t.Fatalf("expected empty metadata, got %+v", md)
	}
}

func TestExifExtractor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExifExtractor(nil).Extract(ctx, nil); err == nil {
		t.Fatal("expected context error")
	}
}

func TestParseExifTime(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		want time.Time
	}{
		{"2025:08:01 14:25:00", true, time.Date(2025, 8, 1, 14, 25, 0, 0, time.UTC)},
		{"2025:08:01 14:25:00\x00", true, time.Date(2025, 8, 1, 14, 25, 0, 0, time.UTC)},
		{"  ", false, time.Time{}},
		{"0000:00:00 00:00:00", false, time.Time{}},
		{"2025-08-01T14:25:00Z", false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := parseExifTime(tt.raw)
		if ok != tt.ok || (ok && !got.Equal(tt.want)) {
			t.Errorf("parseExifTime(%q) = %v, %v; want %v, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
