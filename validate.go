package assets

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// containerSignature is the first-line token of a PLY container.
const containerSignature = "ply"

// validatePreviewLines bounds how many lines of a rejected file are read
// for the error preview.
const validatePreviewLines = 10

// validatePreviewBytes bounds the preview length in the error message.
const validatePreviewBytes = 120

// validateContainer confirms the file at path is a PLY container: its
// first line, trimmed and case-folded, must equal the signature token.
// A rejection error carries a short preview of the offending lines to
// aid diagnosis. Full header parsing is the transcoder's job.
func validateContainer(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrStorageError, path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for len(lines) < validatePreviewLines && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	if len(lines) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidContainer)
	}
	if strings.ToLower(strings.TrimSpace(lines[0])) == containerSignature {
		return nil
	}

	preview := strings.Join(lines, "\n")
	if len(preview) > validatePreviewBytes {
		preview = preview[:validatePreviewBytes] + "..."
	}
	return fmt.Errorf("%w: not a %s file, starts with: %q", ErrInvalidContainer, containerSignature, preview)
}
