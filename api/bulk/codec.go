package bulk

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// encodeCSV writes a header row followed by one row per record.
func encodeCSV(enc *recordEncoder, records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(enc.keys); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		cells, err := enc.encode(r)
		if err != nil {
			return nil, err
		}
		if err := w.Write(cells); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeCSV parses a whole CSV document with a header row. Header names
// are passed through normalize before use as row keys.
func decodeCSV(data []byte, normalize func(string) string) ([]Row, error) {
	rows := []Row{}
	if len(bytes.TrimSpace(data)) == 0 {
		return rows, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i, h := range header {
		header[i] = normalize(h)
	}

	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		rows = append(rows, zipRow(header, cells))
	}
}

func zipRow(header, cells []string) Row {
	row := make(Row, len(header))
	for i, h := range header {
		if i < len(cells) {
			row[h] = cells[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

// csvStreamDecoder decodes CSV records from a StreamReader one record at a
// time. A record may span several lines when a quoted cell contains a line
// break, so lines are accumulated until their quotes balance.
type csvStreamDecoder struct {
	src    *StreamReader
	header []string
}

var lineTerminator = []byte("\n")

// next returns the next data row, or io.EOF once the stream is exhausted.
func (d *csvStreamDecoder) next() (Row, error) {
	for {
		cells, err := d.readRecord()
		if err != nil {
			return nil, err
		}
		if d.header == nil {
			d.header = cells
			continue
		}
		return zipRow(d.header, cells), nil
	}
}

func (d *csvStreamDecoder) readRecord() ([]string, error) {
	var record []byte
	for {
		line, err := d.src.ReadUntil(lineTerminator)
		if errors.Is(err, io.EOF) {
			if len(record) == 0 {
				return nil, io.EOF
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read result stream: %w", err)
		}
		record = append(record, line...)
		if bytes.Count(record, []byte(`"`))%2 == 0 {
			break
		}
	}

	text := strings.TrimRight(string(record), "\r\n")
	if text == "" {
		return d.readRecord()
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	cells, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV record: %w", err)
	}
	return cells, nil
}
