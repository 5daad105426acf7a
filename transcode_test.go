package assets

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

// splatProps is the full destination attribute set in source order.
func splatProps() []string {
	props := []string{"x", "y", "z", "nx", "ny", "nz", "f_dc_0", "f_dc_1", "f_dc_2"}
	for i := 0; i < shCoeffs; i++ {
		props = append(props, fmt.Sprintf("f_rest_%d", i))
	}
	props = append(props, "opacity", "scale_0", "scale_1", "scale_2",
		"rot_0", "rot_1", "rot_2", "rot_3")
	return props
}

// buildSplatPLY assembles a binary little-endian container with the
// given float properties and per-vertex values.
func buildSplatPLY(t *testing.T, props []string, verts [][]float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("ply\n")
	buf.WriteString("format binary_little_endian 1.0\n")
	fmt.Fprintf(&buf, "element vertex %d\n", len(verts))
	for _, p := range props {
		fmt.Fprintf(&buf, "property float %s\n", p)
	}
	buf.WriteString("end_header\n")

	for _, v := range verts {
		if len(v) != len(props) {
			t.Fatalf("vertex has %d values, want %d", len(v), len(props))
		}
		for _, f := range v {
			var word [4]byte
			binary.LittleEndian.PutUint32(word[:], math.Float32bits(f))
			buf.Write(word[:])
		}
	}
	return buf.Bytes()
}

// fullVertex returns one vertex with every destination attribute set to
// a recognizable value, overridable by name.
func fullVertex(t *testing.T, overrides map[string]float32) []float32 {
	t.Helper()
	props := splatProps()
	v := make([]float32, len(props))
	for i, name := range props {
		if val, ok := overrides[name]; ok {
			v[i] = val
		}
	}
	return v
}

func TestParseHeaderStride(t *testing.T) {
	header := strings.Join([]string{
		"format binary_little_endian 1.0",
		"element vertex 3",
		"property float x",
		"property float y",
		"property float z",
		"property double precision_field",
		"property uchar red",
		"property int mystery",
		"property float opacity",
		"end_header",
		"",
	}, "\n")

	h, err := parseHeader(strings.NewReader(header))
	if err != nil {
		t.Fatalf("parseHeader failed: %v", err)
	}
	if h.vertexCount != 3 {
		t.Errorf("vertexCount = %d, want 3", h.vertexCount)
	}
	// float 4+4+4, double 8, uchar 1, unknown int 0, float 4
	if h.stride != 25 {
		t.Errorf("stride = %d, want 25", h.stride)
	}
	if got := h.floatOffset("opacity"); got != 21 {
		t.Errorf("opacity offset = %d, want 21", got)
	}
	// The double does not satisfy a float lookup
	if got := h.floatOffset("precision_field"); got != -1 {
		t.Errorf("double property should not resolve as float, got offset %d", got)
	}
}

func TestParseHeaderErrors(t *testing.T) {
	t.Run("no end marker", func(t *testing.T) {
		_, err := parseHeader(strings.NewReader("format binary_little_endian 1.0\n"))
		if !errors.Is(err, ErrInvalidContainer) {
			t.Errorf("expected ErrInvalidContainer, got %v", err)
		}
	})

	t.Run("ascii format rejected", func(t *testing.T) {
		header := "format ascii 1.0\nelement vertex 1\nend_header\n"
		_, err := parseHeader(strings.NewReader(header))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("big endian rejected", func(t *testing.T) {
		header := "format binary_big_endian 1.0\nelement vertex 1\nend_header\n"
		_, err := parseHeader(strings.NewReader(header))
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("bad vertex count", func(t *testing.T) {
		header := "format binary_little_endian 1.0\nelement vertex many\nend_header\n"
		_, err := parseHeader(strings.NewReader(header))
		if !errors.Is(err, ErrInvalidContainer) {
			t.Errorf("expected ErrInvalidContainer, got %v", err)
		}
	})
}

func TestParseHeaderBytesConsumed(t *testing.T) {
	content := buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, nil)})
	r := bytes.NewReader(content)

	h, err := parseHeader(r)
	if err != nil {
		t.Fatalf("parseHeader failed: %v", err)
	}
	// The reader position after parsing is exactly the start of the
	// binary body; headerBytes must agree with it.
	pos := int64(len(content)) - int64(r.Len())
	if h.headerBytes != pos {
		t.Errorf("headerBytes = %d, reader position = %d", h.headerBytes, pos)
	}
	if int64(len(content))-h.headerBytes != int64(recordWords*4) {
		t.Errorf("body size = %d, want %d", int64(len(content))-h.headerBytes, recordWords*4)
	}
}

func TestScanHeaderMissingAttribute(t *testing.T) {
	props := splatProps()
	// Drop rot_3
	trimmed := props[:len(props)-1]
	verts := [][]float32{make([]float32, len(trimmed))}
	path := writeTemp(t, buildSplatPLY(t, trimmed, verts))

	tr := newTranscoder(nil)
	_, err := tr.scanHeader(path)
	if !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("expected ErrMissingAttribute, got %v", err)
	}
	if !strings.Contains(err.Error(), "rot_3") {
		t.Errorf("error should name the missing attribute: %v", err)
	}
}

func TestScanHeaderShortRead(t *testing.T) {
	content := buildSplatPLY(t, splatProps(), [][]float32{
		fullVertex(t, nil), fullVertex(t, nil),
	})
	// Truncate half the second record
	path := writeTemp(t, content[:len(content)-recordWords*2])

	tr := newTranscoder(nil)
	_, err := tr.scanHeader(path)
	if !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}

func TestScanHeaderOversize(t *testing.T) {
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, nil)}))

	tr := newTranscoder(nil)
	tr.sizeLimit = 64
	_, err := tr.scanHeader(path)
	if !errors.Is(err, ErrOversizeFile) {
		t.Errorf("expected ErrOversizeFile, got %v", err)
	}
}

func TestTranscodeDefaults(t *testing.T) {
	// All-zero source values exercise the numeric transforms' fixed
	// points: opacity 0.5, scale 1, color 0.5, identity rotation.
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, nil)}))

	tr := newTranscoder(nil)
	records, h, err := tr.transcode(context.Background(), path)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	if h.vertexCount != 1 || len(records) != 1 {
		t.Fatalf("expected 1 record, got %d (header says %d)", len(records), h.vertexCount)
	}

	r := records[0]
	if r.Opacity != 0.5 {
		t.Errorf("Opacity = %v, want 0.5", r.Opacity)
	}
	for c := 0; c < 3; c++ {
		if r.Scale[c] != 1 {
			t.Errorf("Scale[%d] = %v, want 1", c, r.Scale[c])
		}
		if r.Color[c] != 0.5 {
			t.Errorf("Color[%d] = %v, want 0.5", c, r.Color[c])
		}
	}
	// Zero rot normalizes to identity, renderer order (x, y, z, w)
	if r.Rotation != [4]float32{0, 0, 0, 1} {
		t.Errorf("Rotation = %v, want identity (0,0,0,1)", r.Rotation)
	}
}

func TestTranscodeTransforms(t *testing.T) {
	overrides := map[string]float32{
		"x": 1, "y": 2, "z": 3,
		"nx": 0.5, "ny": -0.5, "nz": 1,
		"f_dc_0": 1, "f_dc_1": 0, "f_dc_2": -1,
		"opacity": 2,
		"scale_0": 0, "scale_1": 1, "scale_2": -1,
		"rot_0": 1, "rot_1": 0, "rot_2": 0, "rot_3": 0,
	}
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, overrides)}))

	tr := newTranscoder(nil)
	records, _, err := tr.transcode(context.Background(), path)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}
	r := records[0]

	if r.Position != [3]float32{1, 2, 3} {
		t.Errorf("Position = %v", r.Position)
	}
	if r.Normal != [3]float32{0.5, -0.5, 1} {
		t.Errorf("Normal = %v", r.Normal)
	}

	const tol = 1e-5
	wantColor := [3]float32{0.5 + shC0, 0.5, 0.5 - shC0}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(r.Color[c]-wantColor[c])) > tol {
			t.Errorf("Color[%d] = %v, want %v", c, r.Color[c], wantColor[c])
		}
	}

	wantOpacity := float32(1 / (1 + math.Exp(-2)))
	if math.Abs(float64(r.Opacity-wantOpacity)) > tol {
		t.Errorf("Opacity = %v, want %v", r.Opacity, wantOpacity)
	}

	wantScale := [3]float32{1, float32(math.E), float32(1 / math.E)}
	for c := 0; c < 3; c++ {
		if math.Abs(float64(r.Scale[c]-wantScale[c])) > tol*10 {
			t.Errorf("Scale[%d] = %v, want %v", c, r.Scale[c], wantScale[c])
		}
	}

	// rot_0=1 is w; renderer order puts it last
	if r.Rotation != [4]float32{0, 0, 0, 1} {
		t.Errorf("Rotation = %v, want (0,0,0,1)", r.Rotation)
	}
}

func TestTranscodeSHReorder(t *testing.T) {
	// Store f_rest_j = j; after the axis-major to coefficient-major
	// reorder, SH[3i+c] must equal c*15+i.
	overrides := make(map[string]float32)
	for j := 0; j < shCoeffs; j++ {
		overrides[fmt.Sprintf("f_rest_%d", j)] = float32(j)
	}
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, overrides)}))

	tr := newTranscoder(nil)
	records, _, err := tr.transcode(context.Background(), path)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}

	r := records[0]
	for i := 0; i < shCoeffs/3; i++ {
		for c := 0; c < 3; c++ {
			want := float32(c*(shCoeffs/3) + i)
			if got := r.SH[3*i+c]; got != want {
				t.Errorf("SH[%d] = %v, want %v", 3*i+c, got, want)
			}
		}
	}
}

func TestTranscodeQuaternionRoundTrip(t *testing.T) {
	// An arbitrary rotation survives the quantization round trip within
	// 10-bit quantization precision.
	overrides := map[string]float32{
		"rot_0": 0.72, "rot_1": 0.31, "rot_2": -0.45, "rot_3": 0.42,
	}
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, overrides)}))

	tr := newTranscoder(nil)
	records, _, err := tr.transcode(context.Background(), path)
	if err != nil {
		t.Fatalf("transcode failed: %v", err)
	}

	q := records[0].Rotation
	want := normalizeQuat([4]float32{0.31, -0.45, 0.42, 0.72})
	const tol = 0.01
	for i := 0; i < 4; i++ {
		got, exp := q[i], want[i]
		// q and -q encode the same rotation
		if q[3] < 0 {
			got = -got
		}
		if want[3] < 0 {
			exp = -exp
		}
		if math.Abs(float64(got-exp)) > tol {
			t.Errorf("Rotation[%d] = %v, want %v within %v", i, q[i], want[i], tol)
		}
	}

	var norm float64
	for i := 0; i < 4; i++ {
		norm += float64(q[i]) * float64(q[i])
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("rotation norm = %v, want 1", norm)
	}
}

func TestTranscodeCancelled(t *testing.T) {
	path := writeTemp(t, buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, nil)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTranscoder(nil)
	_, _, err := tr.transcode(ctx, path)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected ErrCancelled, got %v", err)
	}
}

func TestTranscodeTrailingBytesTolerated(t *testing.T) {
	content := buildSplatPLY(t, splatProps(), [][]float32{fullVertex(t, nil)})
	content = append(content, []byte("trailing junk")...)
	path := writeTemp(t, content)

	tr := newTranscoder(nil)
	records, _, err := tr.transcode(context.Background(), path)
	if err != nil {
		t.Fatalf("transcode should tolerate trailing bytes, got %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}

func TestPackSmallestThree(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		p := packSmallestThree([4]float32{0, 0, 0, 1})
		if p.largest != 3 {
			t.Errorf("largest = %d, want 3", p.largest)
		}
		got := unpackSmallestThree(p)
		if got != [4]float32{0, 0, 0, 1} {
			t.Errorf("round trip = %v, want identity", got)
		}
	})

	t.Run("zero components store the center value", func(t *testing.T) {
		// A zero component must quantize onto an exact code, not fall
		// between two; otherwise axis-aligned rotations pick up a bias.
		p := packSmallestThree([4]float32{0, 0, 0, 1})
		for i, c := range p.abc {
			if c != quatComponentHalf {
				t.Errorf("abc[%d] = %d, want %d", i, c, quatComponentHalf)
			}
		}
	})

	t.Run("axis aligned quaternions round-trip exactly", func(t *testing.T) {
		axes := [][4]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
			{0, 0, 0, 1},
		}
		for _, q := range axes {
			if got := unpackSmallestThree(packSmallestThree(q)); got != q {
				t.Errorf("round trip of %v = %v, want exact", q, got)
			}
		}
	})

	t.Run("negative largest flips sign", func(t *testing.T) {
		p := packSmallestThree([4]float32{0, 0, 0, -1})
		got := unpackSmallestThree(p)
		// -q is the same rotation; the omitted component is stored
		// non-negative
		if got[3] < 0 {
			t.Errorf("omitted component should unpack non-negative, got %v", got)
		}
	})
}
