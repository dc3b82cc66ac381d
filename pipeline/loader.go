package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// FormatFromPath picks the dataset format from a file extension.
func FormatFromPath(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads a CSV or JSON dataset from disk. charset names the file's text
// encoding; empty means UTF-8.
func Load(path, charset string) (*Dataset, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return LoadReader(file, filepath.Base(path), format, charset)
}

// LoadReader parses a dataset of the given format from r.
func LoadReader(r io.Reader, name, format, charset string) (*Dataset, error) {
	enc, err := charsetEncoding(charset)
	if err != nil {
		return nil, err
	}
	decoded := transform.NewReader(r, enc.NewDecoder())

	var columns []string
	var rows [][]string
	switch strings.ToLower(format) {
	case FormatCSV:
		columns, rows, err = parseCSV(decoded)
	case FormatJSON:
		columns, rows, err = parseJSONRecords(decoded)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", name, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("load dataset %s: no columns", name)
	}
	return &Dataset{Name: name, Columns: columns, Rows: rows}, nil
}

func charsetEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return unicode.UTF8BOM, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return enc, nil
}

func parseCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // ragged rows are dropped by the cleaner
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errors.New("empty csv")
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, records[1:], nil
}

// parseJSONRecords reads an array of flat objects. Columns keep the order in
// which keys are first seen; keys absent from a record become empty cells.
func parseJSONRecords(r io.Reader) ([]string, [][]string, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, nil, err
	}

	var columns []string
	index := make(map[string]int)
	var records []map[string]string
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, nil, err
		}
		record := make(map[string]string)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected token %v", tok)
			}
			var raw interface{}
			if err := dec.Decode(&raw); err != nil {
				return nil, nil, err
			}
			text, err := cellText(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", key, err)
			}
			if _, seen := index[key]; !seen {
				index[key] = len(columns)
				columns = append(columns, key)
			}
			record[key] = text
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, nil, err
	}

	rows := make([][]string, len(records))
	for i, record := range records {
		row := make([]string, len(columns))
		for j, col := range columns {
			row[j] = record[col]
		}
		rows[i] = row
	}
	return columns, rows, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func cellText(v interface{}) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	case json.Number:
		return value.String(), nil
	case bool:
		return strconv.FormatBool(value), nil
	default:
		return "", errors.New("nested values are not supported")
	}
}
