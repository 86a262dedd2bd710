package bulkcmd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	clierr "github.com/open-cli-collective/sfbulk/internal/errors"
)

const utf8BOM = "\ufeff"

// loadRecords reads the records in path, or stdin when path is "-".
func loadRecords(stdin io.Reader, path, nullMarker string) ([]bulk.Record, error) {
	if path == "-" {
		return readRecords(stdin, nullMarker)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer func() { _ = f.Close() }()

	records, err := readRecords(f, nullMarker)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// readRecords decodes CSV with a header row into records. Every cell becomes
// a string value except cells equal to nullMarker, which become nil and clear
// the field on the server. An empty nullMarker disables the mapping.
func readRecords(r io.Reader, nullMarker string) ([]bulk.Record, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, clierr.Usage("input has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	header[0] = strings.TrimPrefix(header[0], utf8BOM)
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, clierr.Usage("column %d has an empty header", i+1)
		}
		if seen[h] {
			return nil, clierr.Usage("duplicate column %q", h)
		}
		seen[h] = true
		header[i] = h
	}

	var records []bulk.Record
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV: %w", err)
		}

		rec := make(bulk.Record, len(header))
		for i, h := range header {
			if nullMarker != "" && cells[i] == nullMarker {
				rec[h] = nil
				continue
			}
			rec[h] = cells[i]
		}
		records = append(records, rec)
	}
	return records, nil
}
