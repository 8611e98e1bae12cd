package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ====================================================================================
// This file extracts the single CSV member from a downloaded trip archive.
// Extraction failures are deterministic for a given payload, so they are fatal
// for the unit and never retried.
// ====================================================================================

// ErrNoMatchingMember is returned when the archive contains no CSV member
// matching the expected table-name fragment.
var ErrNoMatchingMember = errors.New("no matching csv member in archive")

// CorruptArchiveError wraps a failure to open or read the archive itself.
type CorruptArchiveError struct {
	Err error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive: %v", e.Err)
}

func (e *CorruptArchiveError) Unwrap() error {
	return e.Err
}

// ExtractCSV opens zipBytes in memory and returns the bytes of the first
// member whose name ends in ".csv" and contains nameFragment, along with the
// member name. Resource-fork junk such as "__MACOSX/" entries, which the real
// Divvy archives carry, is skipped.
func ExtractCSV(zipBytes []byte, nameFragment string) ([]byte, string, error) {
	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return nil, "", &CorruptArchiveError{Err: err}
	}

	for _, member := range reader.File {
		name := member.Name
		if strings.HasPrefix(name, "__MACOSX/") || strings.HasSuffix(name, "/") {
			continue
		}
		if !strings.HasSuffix(name, ".csv") || !strings.Contains(name, nameFragment) {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			return nil, "", &CorruptArchiveError{Err: fmt.Errorf("open member %s: %w", name, err)}
		}
		data, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, "", &CorruptArchiveError{Err: fmt.Errorf("read member %s: %w", name, err)}
		}
		if closeErr != nil {
			return nil, "", &CorruptArchiveError{Err: fmt.Errorf("close member %s: %w", name, closeErr)}
		}
		return data, name, nil
	}

	return nil, "", fmt.Errorf("%w (fragment %q, %d members)", ErrNoMatchingMember, nameFragment, len(reader.File))
}

// MissingColumns parses the CSV header and returns which of the required
// columns are absent. Used for a post-extraction sanity check on trip data;
// a mismatch is reported, not fatal, matching the Bronze-layer policy of
// capturing raw data as-is.
func MissingColumns(csvData []byte, required []string) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(csvData))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.TrimSpace(col)] = true
	}

	var missing []string
	for _, col := range required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	return missing, nil
}
