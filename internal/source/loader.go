// Package source loads the survey export, a delimited text file, from a URL
// or a local path and turns it into raw rows.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"envsignal-platform/internal/models"
	"envsignal-platform/pkg/logging"
	"envsignal-platform/pkg/metrics"
)

const maxSourceBytes = 256 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Dataset is a decoded source file.
type Dataset struct {
	Columns  []string
	Rows     []models.RawRow
	Encoding string
}

// Loader fetches and decodes survey exports.
type Loader struct {
	client  *http.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLoader creates a loader whose HTTP fetches are bounded by client's
// timeout.
func NewLoader(client *http.Client, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client:  client,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Load reads location, an http(s) URL or a file path, and parses it.
func (l *Loader) Load(ctx context.Context, location string) (*Dataset, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("no source location given")
	}

	timer := l.metrics.NewTimer(l.metrics.SourceFetchDuration)
	data, err := l.read(ctx, location)
	duration := timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", location, err)
	}

	l.logger.Info(ctx, "[SOURCE_LOADED] Source decoded", logging.Fields{
		"location":    location,
		"bytes":       len(data),
		"encoding":    ds.Encoding,
		"columns":     len(ds.Columns),
		"rows":        len(ds.Rows),
		"duration_ms": duration.Milliseconds(),
	})
	return ds, nil
}

func (l *Loader) read(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("failed to read source file: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read source body: %w", err)
	}
	return data, nil
}

type textDecoder struct {
	name   string
	decode func([]byte) (string, error)
}

func decodeUTF8(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("invalid utf-8")
	}
	return string(data), nil
}

// Bytes Windows-1252 leaves unassigned. The x/text decoder maps them to
// U+FFFD without an error, so they are rejected up front.
const windows1252Undefined = "\x81\x8d\x8f\x90\x9d"

func decodeWindows1252(data []byte) (string, error) {
	if bytes.ContainsAny(data, windows1252Undefined) {
		return "", errors.New("byte undefined in windows-1252")
	}
	return charmap.Windows1252.NewDecoder().String(string(data))
}

// Exports are UTF-8 unless someone re-saved them from a desktop
// spreadsheet, which writes Windows-1252. ISO-8859-1 takes whatever is left,
// C1 control bytes included.
var decoders = []textDecoder{
	{name: "utf-8", decode: decodeUTF8},
	{name: "windows-1252", decode: decodeWindows1252},
	{name: "iso-8859-1", decode: func(b []byte) (string, error) { return charmap.ISO8859_1.NewDecoder().String(string(b)) }},
}

// Decode converts data to a string, returning the encoding that succeeded.
func Decode(data []byte) (string, string, error) {
	if bytes.HasPrefix(data, utf8BOM) {
		text, err := decodeUTF8(data[len(utf8BOM):])
		if err == nil {
			return text, "utf-8-bom", nil
		}
	}
	for _, d := range decoders {
		text, err := d.decode(data)
		if err == nil {
			return text, d.name, nil
		}
	}
	return "", "", errors.New("unrecognized text encoding")
}

// RepairMojibake undoes UTF-8 text that was decoded as Windows-1252 once,
// e.g. "ConcentraciÃ³n" back to "Concentración". Anything else is returned
// unchanged.
func RepairMojibake(s string) string {
	if !strings.ContainsAny(s, "ÃÂ") {
		return s
	}
	raw, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil || !utf8.ValidString(raw) {
		return s
	}
	return raw
}

// detectDelimiter picks ';' when the header line has more semicolons than
// commas.
func detectDelimiter(text string) rune {
	header := text
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		header = text[:i]
	}
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

// columnNames trims header cells, repairs their encoding and makes them
// unique. A mis-encoded name whose repaired form is also in the header keeps
// its raw spelling, so both columns survive and alias mappings still see it.
func columnNames(header []string) []string {
	trimmed := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, raw := range header {
		trimmed[i] = strings.TrimSpace(raw)
		present[trimmed[i]] = true
	}

	out := make([]string, 0, len(header))
	seen := map[string]int{}
	for i, name := range trimmed {
		base := RepairMojibake(name)
		if base != name && present[base] {
			base = name
		}
		if base == "" {
			base = fmt.Sprintf("column_%d", i+1)
		}
		seen[base]++
		if seen[base] == 1 {
			out = append(out, base)
		} else {
			out = append(out, fmt.Sprintf("%s_%d", base, seen[base]))
		}
	}
	return out
}

// Parse decodes data and reads it as a delimited table with a header row.
// Rows are numbered from 1, excluding the header.
func Parse(data []byte) (*Dataset, error) {
	text, encoding, err := Decode(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("source is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	ds := &Dataset{Columns: columnNames(header), Encoding: encoding}
	for n := 1; ; n++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", n, err)
		}

		fields := make(map[string]string, len(ds.Columns))
		for i, col := range ds.Columns {
			if i < len(record) {
				fields[col] = RepairMojibake(record[i])
			}
		}
		ds.Rows = append(ds.Rows, models.RawRow{Number: n, Fields: fields})
	}
	return ds, nil
}
