package bulk

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Record is one row of data keyed by field name. Values may be strings,
// numbers, booleans, time.Time, fmt.Stringer or nil; a nil value is sent as
// NotApplicable and clears the field on the server.
type Record map[string]any

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindNull
	kindTime
)

// Value is the closed set of field values a record can carry on the wire.
type Value struct {
	kind valueKind
	text string
	time time.Time
}

// String returns the CSV cell text for v.
func (v Value) String() string {
	switch v.kind {
	case kindNull:
		return NotApplicable
	case kindTime:
		return v.time.Format(time.RFC3339)
	default:
		return v.text
	}
}

// IsNull reports whether v is an explicit null.
func (v Value) IsNull() bool {
	return v.kind == kindNull
}

// IsEmpty reports whether v is a string or number with no text.
func (v Value) IsEmpty() bool {
	return (v.kind == kindString || v.kind == kindNumber) && v.text == ""
}

// ValueOf converts a record value into a Value. Maps, slices, arrays and
// structs other than time.Time are not representable in a CSV cell.
func ValueOf(x any) (Value, error) {
	if rv := reflect.ValueOf(x); rv.IsValid() {
		switch rv.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Slice:
			if rv.IsNil() {
				return Value{kind: kindNull}, nil
			}
		}
	}

	switch v := x.(type) {
	case nil:
		return Value{kind: kindNull}, nil
	case string:
		return Value{kind: kindString, text: v}, nil
	case time.Time:
		return Value{kind: kindTime, time: v}, nil
	case *time.Time:
		return Value{kind: kindTime, time: *v}, nil
	case bool:
		return Value{kind: kindString, text: strconv.FormatBool(v)}, nil
	case int:
		return Value{kind: kindNumber, text: strconv.Itoa(v)}, nil
	case int8, int16, int32, int64:
		return Value{kind: kindNumber, text: strconv.FormatInt(reflect.ValueOf(v).Int(), 10)}, nil
	case uint, uint8, uint16, uint32, uint64:
		return Value{kind: kindNumber, text: strconv.FormatUint(reflect.ValueOf(v).Uint(), 10)}, nil
	case float32:
		return Value{kind: kindNumber, text: strconv.FormatFloat(float64(v), 'f', -1, 32)}, nil
	case float64:
		return Value{kind: kindNumber, text: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case fmt.Stringer:
		return Value{kind: kindString, text: v.String()}, nil
	}

	switch reflect.TypeOf(x).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Func, reflect.Chan:
		return Value{}, fmt.Errorf("unsupported field type %T", x)
	}
	return Value{kind: kindString, text: fmt.Sprint(x)}, nil
}

// recordEncoder serializes records against a fixed header.
type recordEncoder struct {
	keys     []string
	nullable map[string]bool
}

// encode returns the CSV cells for r, one per header key.
func (e *recordEncoder) encode(r Record) ([]string, error) {
	cells := make([]string, len(e.keys))
	for i, k := range e.keys {
		raw, present := r[k]
		if !present {
			if !e.nullable[k] {
				return nil, &RecordValidationError{Field: k, Record: r, Reason: "value is empty or not specified"}
			}
			continue
		}

		v, err := ValueOf(raw)
		if err != nil {
			return nil, &RecordValidationError{Field: k, Record: r, Reason: err.Error()}
		}
		if v.IsEmpty() && !e.nullable[k] {
			return nil, &RecordValidationError{Field: k, Record: r, Reason: "value is empty or not specified"}
		}
		cells[i] = v.String()
	}
	return cells, nil
}

// headerKeys returns the sorted union of field names across records.
func headerKeys(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// chunkRecords splits records into consecutive chunks of at most size
// records, preserving order.
func chunkRecords(records []Record, size int) [][]Record {
	chunks := make([][]Record, 0, (len(records)+size-1)/size)
	for chunk := range slices.Chunk(records, size) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func validateBatchSize(size int) error {
	if size <= 0 || size > MaxBatchSize {
		return &ConfigurationError{Reason: fmt.Sprintf("invalid batch size %d, expected 1 .. %d", size, MaxBatchSize)}
	}
	return nil
}
