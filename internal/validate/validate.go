// Package validate inspects downloaded database files and classifies them as
// structurally plausible or not for their declared format.
//
// The two formats give very different guarantees. MMDB files end with a
// metadata section introduced by a fixed byte marker, so a missing marker is
// a hard failure. The IP2Location BIN layout has no documented magic number;
// its validation is a layered heuristic and a miss only produces a warning,
// never a failure. Callers must not treat a BIN warning as corruption.
package validate

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/geoipdb/geoipsync/internal/catalog"
)

// mmdbMarker introduces the MMDB metadata section. The metadata section is at
// most 128KB, so the marker always falls within the trailing 128KB of a
// well-formed file.
var mmdbMarker = []byte("\xab\xcd\xefMaxMind.com")

const (
	mmdbTailSize = 128 * 1024

	// binSniffSize is how much of a BIN file head is searched for
	// provider tokens and sampled for the binary-content check.
	binSniffSize = 10 * 1024
	binTextProbe = 100
)

// binTokens are textual fragments IP2Location embeds near the start of its
// database files. Any hit is a positive signal.
var binTokens = [][]byte{
	[]byte("IP2LOCATION"),
	[]byte("IP2PROXY"),
	[]byte("IP2Location"),
}

// Result classifies a single file.
type Result struct {
	Valid   bool
	Warning bool
	Reason  string
}

// File validates the file at path against the given format. It only reads;
// the file is never moved or modified.
func File(path string, format catalog.Format) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	switch format {
	case catalog.FormatMMDB:
		return validateMMDB(f)
	case catalog.FormatBIN:
		return validateBIN(f)
	default:
		return Result{}, fmt.Errorf("unknown database format %q", format)
	}
}

func validateMMDB(f *os.File) (Result, error) {
	stat, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat file: %w", err)
	}

	readSize := int64(mmdbTailSize)
	if stat.Size() < readSize {
		readSize = stat.Size()
	}

	if _, err := f.Seek(stat.Size()-readSize, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("failed to seek to metadata section: %w", err)
	}

	tail := make([]byte, readSize)
	if _, err := io.ReadFull(f, tail); err != nil {
		return Result{}, fmt.Errorf("failed to read metadata section: %w", err)
	}

	if !bytes.Contains(tail, mmdbMarker) {
		return Result{Reason: "missing metadata marker"}, nil
	}

	return Result{Valid: true}, nil
}

// validateBIN applies the layered BIN heuristic: a provider token in the
// file head, or failing that, evidence that the content is binary rather
// than text (an HTML error page would be pure text). Failing both yields a
// warning, not a failure.
func validateBIN(f *os.File) (Result, error) {
	head := make([]byte, binSniffSize)

	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, fmt.Errorf("failed to read file head: %w", err)
	}

	head = head[:n]

	for _, token := range binTokens {
		if bytes.Contains(head, token) {
			return Result{Valid: true}, nil
		}
	}

	probe := head
	if len(probe) > binTextProbe {
		probe = probe[:binTextProbe]
	}

	for _, b := range probe {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			// Non-printable byte this early means binary content.
			return Result{Valid: true}, nil
		}
	}

	return Result{
		Valid:   true,
		Warning: true,
		Reason:  "could not verify BIN format: content looks textual",
	}, nil
}
