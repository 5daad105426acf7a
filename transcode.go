package assets

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// maxContainerBytes is the hard ceiling on container size. It is a
// correctness bound of the in-memory record representation, checked
// before any parsing work.
const maxContainerBytes int64 = 2 << 30

// maxHeaderLines bounds the header scan.
const maxHeaderLines = 256

// maxHeaderLineBytes bounds a single header line.
const maxHeaderLineBytes = 1024

// formatToken is the only accepted container format declaration.
const formatToken = "binary_little_endian"

// shCoeffs is the number of higher-order spherical-harmonic coefficients
// per point: 15 basis functions × 3 color channels.
const shCoeffs = 45

// recordWords is the fixed destination record size in 4-byte words:
// position 3 + normal 3 + dc color 3 + SH 45 + opacity 1 + scale 3 +
// rotation 4.
const recordWords = 62

// Destination word offsets within a record.
const (
	wordPos      = 0
	wordNormal   = 3
	wordColor    = 6
	wordSH       = 9
	wordOpacity  = 54
	wordScale    = 55
	wordRotation = 58
)

// shC0 is the band-0 spherical-harmonic basis constant.
const shC0 = 0.28209479177387814

// transcodeCheckInterval is how many records are processed between
// context checks during the bulk transform.
const transcodeCheckInterval = 4096

// plyProperty is one declared per-vertex property with its byte offset
// within a record. Properties of unrecognized types keep size 0 and are
// skipped when resolving attribute offsets.
type plyProperty struct {
	name   string
	typ    string
	offset int
	size   int
}

// plyHeader is the parsed textual preamble of a PLY container.
type plyHeader struct {
	// format is the declared format token, e.g. "binary_little_endian".
	format string

	// vertexCount is taken from the "element vertex <n>" line.
	vertexCount int

	// properties lists the declared per-vertex properties in order.
	properties []plyProperty

	// stride is the per-record byte size: the sum of property sizes in
	// declared order.
	stride int

	// headerBytes is the byte length of the header including the
	// end-marker line; the binary body starts here.
	headerBytes int64
}

// floatOffset returns the byte offset of a 4-byte-float property by
// name, or -1 when no such property exists. Only float properties
// qualify: a double or uchar with the same name does not satisfy a
// required attribute.
func (h *plyHeader) floatOffset(name string) int {
	for _, p := range h.properties {
		if p.name == name && p.size == 4 {
			return p.offset
		}
	}
	return -1
}

// propertyTypeSize maps a declared element type to its byte size.
// Unrecognized types contribute 0 to stride and are otherwise ignored.
func propertyTypeSize(typ string) int {
	switch typ {
	case "float", "float32":
		return 4
	case "double", "float64":
		return 8
	case "uchar", "uint8":
		return 1
	}
	return 0
}

// requiredAttributes are the float properties every splat container must
// declare. Missing any of them is a hard failure with no degraded load.
var requiredAttributes = []string{
	"x", "y", "z",
	"f_dc_0", "f_dc_1", "f_dc_2",
	"opacity",
	"scale_0", "scale_1", "scale_2",
	"rot_0", "rot_1", "rot_2", "rot_3",
}

// destinationAttributes lists the source property name for each
// destination word, in destination order. Unresolved slots stay zero.
var destinationAttributes = buildDestinationAttributes()

func buildDestinationAttributes() []string {
	names := make([]string, 0, recordWords)
	names = append(names, "x", "y", "z")
	names = append(names, "nx", "ny", "nz")
	names = append(names, "f_dc_0", "f_dc_1", "f_dc_2")
	for i := 0; i < shCoeffs; i++ {
		names = append(names, "f_rest_"+strconv.Itoa(i))
	}
	names = append(names, "opacity")
	names = append(names, "scale_0", "scale_1", "scale_2")
	names = append(names, "rot_0", "rot_1", "rot_2", "rot_3")
	return names
}

// transcoder decodes a validated container file into point records.
type transcoder struct {
	// logger receives diagnostic messages. May be nil.
	logger Logger

	// sizeLimit is the container size ceiling, maxContainerBytes unless
	// overridden in tests.
	sizeLimit int64
}

func newTranscoder(logger Logger) *transcoder {
	return &transcoder{logger: logger, sizeLimit: maxContainerBytes}
}

// readHeaderLine reads one text line byte by byte. The remainder of the
// file is binary, so a buffered reader must not consume past the header;
// unbuffered single-byte reads leave the file offset exactly at the
// start of the vertex data.
func readHeaderLine(r io.Reader) (string, int, error) {
	var buf [1]byte
	line := make([]byte, 0, 64)
	n := 0
	for {
		if _, err := r.Read(buf[:]); err != nil {
			if err == io.EOF && len(line) > 0 {
				return strings.TrimRight(string(line), "\r"), n, nil
			}
			return "", n, err
		}
		n++
		if buf[0] == '\n' {
			return strings.TrimRight(string(line), "\r"), n, nil
		}
		line = append(line, buf[0])
		if len(line) > maxHeaderLineBytes {
			return "", n, fmt.Errorf("%w: header line exceeds %d bytes", ErrInvalidContainer, maxHeaderLineBytes)
		}
	}
}

// parseHeader scans the textual header, tracking format, vertex count,
// and the ordered property list with accumulated stride.
func parseHeader(r io.Reader) (*plyHeader, error) {
	h := &plyHeader{}
	var consumed int64
	currentElement := ""

	for i := 0; i < maxHeaderLines; i++ {
		line, nbytes, err := readHeaderLine(r)
		if err != nil {
			return nil, fmt.Errorf("%w: header ended before end marker", ErrInvalidContainer)
		}
		consumed += int64(nbytes)

		trimmed := strings.TrimSpace(line)
		if trimmed == "end_header" || trimmed == "" {
			h.headerBytes = consumed
			break
		}

		tokens := strings.Fields(trimmed)
		switch tokens[0] {
		case "format":
			if len(tokens) >= 2 {
				h.format = tokens[1]
			}
		case "element":
			if len(tokens) >= 3 {
				currentElement = tokens[1]
				if currentElement == "vertex" {
					n, err := strconv.Atoi(tokens[2])
					if err != nil || n < 0 {
						return nil, fmt.Errorf("%w: bad vertex count %q", ErrInvalidContainer, tokens[2])
					}
					h.vertexCount = n
				}
			}
		case "property":
			if currentElement != "vertex" || len(tokens) < 3 {
				continue
			}
			size := propertyTypeSize(tokens[1])
			h.properties = append(h.properties, plyProperty{
				name:   tokens[len(tokens)-1],
				typ:    tokens[1],
				offset: h.stride,
				size:   size,
			})
			h.stride += size
		}
	}

	if h.headerBytes == 0 {
		return nil, fmt.Errorf("%w: no end marker within %d lines", ErrInvalidContainer, maxHeaderLines)
	}
	if h.format != formatToken {
		return nil, fmt.Errorf("%w: format %q, want %q", ErrUnsupportedFormat, h.format, formatToken)
	}
	return h, nil
}

// scanHeader parses and structurally verifies a container file without
// reading the vertex data: format, required attributes, and an exact
// size check against the declared vertex count and stride.
func (t *transcoder) scanHeader(path string) (*plyHeader, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if fi.Size() >= t.sizeLimit {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrOversizeFile, fi.Size(), t.sizeLimit)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer file.Close()

	h, err := parseHeader(file)
	if err != nil {
		return nil, err
	}

	for _, name := range requiredAttributes {
		if h.floatOffset(name) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingAttribute, name)
		}
	}

	need := int64(h.vertexCount) * int64(h.stride)
	if fi.Size()-h.headerBytes < need {
		return nil, fmt.Errorf("%w: header declares %d bytes of vertex data, %d present",
			ErrShortRead, need, fi.Size()-h.headerBytes)
	}
	return h, nil
}

// transcode decodes the container at path into a RecordSequence of
// length vertexCount. Any structural violation aborts with no partial
// output; the caller discards the source file in that case.
func (t *transcoder) transcode(ctx context.Context, path string) (RecordSequence, *plyHeader, error) {
	h, err := t.scanHeader(path)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer file.Close()

	if _, err := file.Seek(h.headerBytes, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	data := make([]byte, int64(h.vertexCount)*int64(h.stride))
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, nil, fmt.Errorf("%w: vertex data: %v", ErrShortRead, err)
	}

	// Resolve each destination slot's source byte offset once, by
	// name+type lookup; absent slots stay -1 and keep zero values.
	srcOffsets := make([]int, recordWords)
	for i, name := range destinationAttributes {
		srcOffsets[i] = h.floatOffset(name)
	}

	records := make(RecordSequence, h.vertexCount)
	var words [recordWords]float32
	for rec := 0; rec < h.vertexCount; rec++ {
		if rec%transcodeCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				if err == context.DeadlineExceeded {
					return nil, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
				}
				return nil, nil, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
		}

		base := rec * h.stride
		for w := 0; w < recordWords; w++ {
			off := srcOffsets[w]
			if off < 0 {
				words[w] = 0
				continue
			}
			// Raw 4-byte word copy; numeric passes below interpret it.
			words[w] = math.Float32frombits(binary.LittleEndian.Uint32(data[base+off:]))
		}

		r := &records[rec]
		r.Position = [3]float32{words[wordPos], words[wordPos+1], words[wordPos+2]}
		r.Normal = [3]float32{words[wordNormal], words[wordNormal+1], words[wordNormal+2]}

		// Source stores the SH block as axis-major runs (15 R, 15 G,
		// 15 B); renderers expect coefficient-major (R,G,B) triples.
		for i := 0; i < shCoeffs/3; i++ {
			for c := 0; c < 3; c++ {
				r.SH[3*i+c] = words[wordSH+c*(shCoeffs/3)+i]
			}
		}

		for c := 0; c < 3; c++ {
			r.Color[c] = 0.5 + shC0*words[wordColor+c]
			r.Scale[c] = float32(math.Exp(float64(words[wordScale+c])))
		}
		r.Opacity = sigmoid(words[wordOpacity])

		// rot_0..3 is (w, x, y, z); renderer order is (x, y, z, w).
		q := normalizeQuat([4]float32{
			words[wordRotation+1],
			words[wordRotation+2],
			words[wordRotation+3],
			words[wordRotation],
		})
		r.Rotation = unpackSmallestThree(packSmallestThree(q))
	}

	if t.logger != nil {
		t.logger.Debug("transcoded container", "path", path, "vertices", h.vertexCount, "stride", h.stride)
	}
	return records, h, nil
}

// sigmoid applies the logistic function, mapping a stored logit into
// (0, 1).
func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// normalizeQuat scales q to unit length. A zero quaternion becomes the
// identity rotation.
func normalizeQuat(q [4]float32) [4]float32 {
	n := math.Sqrt(float64(q[0])*float64(q[0]) + float64(q[1])*float64(q[1]) +
		float64(q[2])*float64(q[2]) + float64(q[3])*float64(q[3]))
	if n == 0 {
		return [4]float32{0, 0, 0, 1}
	}
	inv := float32(1 / n)
	return [4]float32{q[0] * inv, q[1] * inv, q[2] * inv, q[3] * inv}
}

// quatComponentBits is the quantization width used by the smallest-three
// convention.
const quatComponentBits = 10

// quatComponentHalf centers the quantized range on an exact zero: stored
// values span [0, 2*quatComponentHalf] with zero at quatComponentHalf, so
// axis-aligned quaternions survive the round trip unchanged.
const quatComponentHalf = 1<<(quatComponentBits-1) - 1

// sqrtHalf bounds the three stored components: when the largest
// component is dropped, the rest lie in [-1/√2, 1/√2].
var sqrtHalf = float32(math.Sqrt(0.5))

// packedQuat is a unit quaternion in smallest-three form: the index of
// the omitted (largest-magnitude) component plus the other three,
// quantized.
type packedQuat struct {
	largest int
	abc     [3]uint32
}

// packSmallestThree compresses a unit quaternion by dropping its
// largest-magnitude component. The quaternion's sign is flipped if
// needed so the omitted component is non-negative, which q and -q being
// the same rotation makes harmless.
func packSmallestThree(q [4]float32) packedQuat {
	largest := 0
	for i := 1; i < 4; i++ {
		if abs32(q[i]) > abs32(q[largest]) {
			largest = i
		}
	}
	if q[largest] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}

	var p packedQuat
	p.largest = largest
	slot := 0
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		v := q[i] / sqrtHalf
		if v < -1 {
			v = -1
		}
		if v > 1 {
			v = 1
		}
		p.abc[slot] = uint32(int(math.Round(float64(v)*quatComponentHalf)) + quatComponentHalf)
		slot++
	}
	return p
}

// unpackSmallestThree reconstructs the unit quaternion, deriving the
// omitted component from the unit-norm constraint.
func unpackSmallestThree(p packedQuat) [4]float32 {
	var q [4]float32
	var sumSq float64
	slot := 0
	for i := 0; i < 4; i++ {
		if i == p.largest {
			continue
		}
		v := (float32(p.abc[slot]) - quatComponentHalf) / quatComponentHalf * sqrtHalf
		q[i] = v
		sumSq += float64(v) * float64(v)
		slot++
	}
	if sumSq > 1 {
		sumSq = 1
	}
	q[p.largest] = float32(math.Sqrt(1 - sumSq))
	return normalizeQuat(q)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
