package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gwlsn/tqenc/internal/mocks"
	"github.com/gwlsn/tqenc/internal/raster"
)

const (
	testW = 24
	testH = 18
)

func TestStep(t *testing.T) {
	if got := Step(MinQI); got != 1 {
		t.Errorf("Step(%d) = %d, want 1", MinQI, got)
	}
	for qi := MinQI + 1; qi <= MaxQI; qi++ {
		if Step(qi) < Step(qi-1) {
			t.Fatalf("Step(%d) = %d < Step(%d) = %d", qi, Step(qi), qi-1, Step(qi-1))
		}
	}
}

func TestValidQI(t *testing.T) {
	tests := []struct {
		qi   int
		want bool
	}{
		{-1, false},
		{0, true},
		{64, true},
		{127, true},
		{128, false},
	}
	for _, tt := range tests {
		if got := ValidQI(tt.qi); got != tt.want {
			t.Errorf("ValidQI(%d) = %v, want %v", tt.qi, got, tt.want)
		}
	}
}

func TestZigzag(t *testing.T) {
	for q := -255; q <= 255; q++ {
		s := zigzag(q)
		if s < 0 || s >= Alphabet {
			t.Fatalf("zigzag(%d) = %d out of alphabet", q, s)
		}
		if got := unzigzag(s); got != q {
			t.Fatalf("unzigzag(zigzag(%d)) = %d", q, got)
		}
	}
}

func TestEncodeLosslessAtFinestQI(t *testing.T) {
	c := New()
	frames := mocks.Frames(testW, testH, 2)

	first, err := c.Encode(&Input{Source: frames[0], QI: MinQI, Tables: NewTables()})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Recon.Equal(frames[0]) {
		t.Error("intra frame at qi 0 is not lossless")
	}

	second, err := c.Encode(&Input{
		Source: frames[1],
		QI:     MinQI,
		Refs:   References{Last: first.Recon, Golden: first.Recon},
		Tables: first.Tables,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Recon.Equal(frames[1]) {
		t.Error("inter frame at qi 0 is not lossless")
	}
	if second.Key {
		t.Error("second frame coded as key frame")
	}
}

func TestEncodeIsPure(t *testing.T) {
	c := New()
	frames := mocks.Frames(testW, testH, 2)
	base, err := c.Encode(&Input{Source: frames[0], QI: 20, Tables: NewTables()})
	if err != nil {
		t.Fatal(err)
	}

	lastBefore := base.Recon.Clone()
	tablesBefore := base.Tables
	in := &Input{
		Source: frames[1],
		QI:     40,
		Refs:   References{Last: base.Recon},
		Tables: base.Tables,
	}
	a, err := c.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(in)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(a.Payload, b.Payload) || !a.Recon.Equal(b.Recon) || a.Tables != b.Tables {
		t.Error("repeated trials differ")
	}
	if !base.Recon.Equal(lastBefore) || base.Tables != tablesBefore {
		t.Error("trial modified its references or tables")
	}
}

func TestEncodeCoarserQIIsSmaller(t *testing.T) {
	c := New()
	src := mocks.Frame(testW, testH, 3)
	fine, err := c.Encode(&Input{Source: src, QI: 0, Tables: NewTables()})
	if err != nil {
		t.Fatal(err)
	}
	coarse, err := c.Encode(&Input{Source: src, QI: MaxQI, Tables: NewTables()})
	if err != nil {
		t.Fatal(err)
	}
	if len(coarse.Payload) >= len(fine.Payload) {
		t.Errorf("payload at qi %d = %d bytes, at qi 0 = %d bytes", MaxQI, len(coarse.Payload), len(fine.Payload))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New()
	d := NewDecoder(testW, testH)
	tables := NewTables()
	var refs References

	qis := []int{30, 60, 10, 90, 45, 127}
	for i, qi := range qis {
		src := mocks.Frame(testW, testH, i)
		out, err := c.Encode(&Input{
			Source:        src,
			QI:            qi,
			Key:           i == 3,
			RefreshGolden: i == 4,
			Refs:          refs,
			Tables:        tables,
		})
		if err != nil {
			t.Fatalf("frame %d: Encode() error = %v", i, err)
		}

		got, err := d.Decode(out.Payload)
		if err != nil {
			t.Fatalf("frame %d: Decode() error = %v", i, err)
		}
		if !got.Equal(out.Recon) {
			t.Fatalf("frame %d: decoded frame differs from encoder reconstruction", i)
		}

		refs.Last = out.Recon
		if out.RefreshGolden {
			refs.Golden = out.Recon
		}
		tables = out.Tables
	}
}

func TestEncodeErrors(t *testing.T) {
	c := New()
	src := mocks.Frame(testW, testH, 0)
	tests := []struct {
		name string
		in   *Input
	}{
		{"qi below range", &Input{Source: src, QI: -1}},
		{"qi above range", &Input{Source: src, QI: MaxQI + 1}},
		{"invalid raster", &Input{Source: &raster.Raster{Width: 4, Height: 4}, QI: 10}},
		{"reference size", &Input{Source: src, QI: 10, Refs: References{Last: raster.New(8, 8)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Encode(tt.in); err == nil {
				t.Error("Encode() error = nil")
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	c := New()
	key, err := c.Encode(&Input{Source: mocks.Frame(testW, testH, 0), QI: 10, Tables: NewTables()})
	if err != nil {
		t.Fatal(err)
	}
	inter, err := c.Encode(&Input{
		Source: mocks.Frame(testW, testH, 1),
		QI:     10,
		Refs:   References{Last: key.Recon},
		Tables: key.Tables,
	})
	if err != nil {
		t.Fatal(err)
	}

	badQI := bytes.Clone(key.Payload)
	badQI[2] = 200
	truncated := append([]byte{payloadMagic, flagKey, 10}, mustCompress(t, []byte{0, 0, 0})...)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte{'X'}, key.Payload[1:]...)},
		{"bad qi", badQI},
		{"inter without reference", inter.Payload},
		{"not zstd", []byte{payloadMagic, flagKey, 10, 1, 2, 3}},
		{"truncated symbols", truncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(testW, testH).Decode(tt.payload)
			if !errors.Is(err, ErrBadPayload) {
				t.Errorf("Decode() error = %v, want ErrBadPayload", err)
			}
		})
	}
}

func mustCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	out, err := Compress(b)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestTablesNext(t *testing.T) {
	var h Histogram
	h[0][4] = 10
	t1 := NewTables().Next(&h)
	if t1.Counts[0][4] != 10 {
		t.Fatalf("Counts[0][4] = %d, want 10", t1.Counts[0][4])
	}
	t2 := t1.Next(&Histogram{})
	if t2.Counts[0][4] != 5 {
		t.Errorf("decayed count = %d, want 5", t2.Counts[0][4])
	}

	order, rankOf := t1.rankOrder(0)
	if order[0] != 4 || rankOf[4] != 0 {
		t.Errorf("most frequent symbol not ranked first: order[0] = %d", order[0])
	}
	if order[1] != 0 {
		t.Errorf("ties not broken by symbol: order[1] = %d", order[1])
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("tqenc"), 100)
	c := mustCompress(t, data)
	back, err := Decompress(c)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Error("Decompress(Compress(data)) != data")
	}
	if again := mustCompress(t, data); !bytes.Equal(again, c) {
		t.Error("Compress is not deterministic")
	}
}
