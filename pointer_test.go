package assets

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

const samplePointer = `version https://git-lfs.github.com/spec/v1
oid sha256:4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393
size 12345
`

func TestDetectPointer(t *testing.T) {
	t.Run("valid pointer", func(t *testing.T) {
		path := writeTemp(t, []byte(samplePointer))
		ptr := detectPointer(path)
		if ptr == nil {
			t.Fatal("expected pointer, got nil")
		}
		if got := ptr.Oid(); got != "4d7a214614ab2935c943f9e0ff69d22eadbb8f32b1258daaa5e2ca24d17e2393" {
			t.Errorf("Oid = %q, sha256 prefix should be stripped", got)
		}
		if got := ptr.Size(); got != 12345 {
			t.Errorf("Size = %d, want 12345", got)
		}
		if got := ptr.Version(); got != "https://git-lfs.github.com/spec/v1" {
			t.Errorf("Version = %q", got)
		}
	})

	t.Run("leading blank lines skipped", func(t *testing.T) {
		path := writeTemp(t, []byte("\n\n"+samplePointer))
		if detectPointer(path) == nil {
			t.Error("blank lines before the marker should not defeat detection")
		}
	})

	t.Run("real asset is not a pointer", func(t *testing.T) {
		path := writeTemp(t, []byte("ply\nformat binary_little_endian 1.0\nend_header\n"))
		if detectPointer(path) != nil {
			t.Error("a ply container must never be detected as a pointer")
		}
	})

	t.Run("binary content is not a pointer", func(t *testing.T) {
		path := writeTemp(t, bytes.Repeat([]byte{0x00, 0xff, 0x7f}, 64))
		if detectPointer(path) != nil {
			t.Error("binary content should not be a pointer")
		}
	})

	t.Run("marker not on first line", func(t *testing.T) {
		path := writeTemp(t, []byte("something else\n"+samplePointer))
		if detectPointer(path) != nil {
			t.Error("marker must be the first non-empty line")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if detectPointer(filepath.Join(t.TempDir(), "absent")) != nil {
			t.Error("missing file should yield nil, not a pointer")
		}
	})
}

func TestMediaURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"raw host",
			"https://raw.githubusercontent.com/ongi-app/assets/main/splats/vase.ply",
			"https://media.githubusercontent.com/media/ongi-app/assets/main/splats/vase.ply",
		},
		{
			"web host raw path",
			"https://github.com/ongi-app/assets/raw/main/splats/vase.ply",
			"https://media.githubusercontent.com/media/ongi-app/assets/main/splats/vase.ply",
		},
		{
			"www web host",
			"https://www.github.com/ongi-app/assets/raw/main/splats/vase.ply",
			"https://media.githubusercontent.com/media/ongi-app/assets/main/splats/vase.ply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mediaURL(tt.in)
			if err != nil {
				t.Fatalf("mediaURL failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("mediaURL = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("unsupported host", func(t *testing.T) {
		_, err := mediaURL("https://gitlab.com/group/repo/-/raw/main/vase.ply")
		if !errors.Is(err, ErrUnsupportedSource) {
			t.Errorf("expected ErrUnsupportedSource, got %v", err)
		}
	})
}

func TestResolvePointerMalformed(t *testing.T) {
	f := &fetchClient{}

	tests := []struct {
		name string
		ptr  *lfsPointer
	}{
		{"missing oid", &lfsPointer{fields: map[string]string{"size": "100"}}},
		{"missing size", &lfsPointer{fields: map[string]string{"oid": "abc"}}},
		{"unparsable size", &lfsPointer{fields: map[string]string{"oid": "abc", "size": "lots"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.resolvePointer(context.Background(), tt.ptr,
				"https://raw.githubusercontent.com/o/r/main/a.ply", "/tmp/dest", nil)
			if !errors.Is(err, ErrMalformedPointer) {
				t.Errorf("expected ErrMalformedPointer, got %v", err)
			}
		})
	}
}

func TestResolvePointerUnsupportedHostFailsBeforeNetwork(t *testing.T) {
	// No httpClient is configured, so reaching the network would panic;
	// the host check must reject first.
	f := &fetchClient{}
	ptr := &lfsPointer{fields: map[string]string{"oid": "abc", "size": "10"}}
	err := f.resolvePointer(context.Background(), ptr,
		"https://example.com/files/a.ply", "/tmp/dest", nil)
	if !errors.Is(err, ErrUnsupportedSource) {
		t.Errorf("expected ErrUnsupportedSource, got %v", err)
	}
}
