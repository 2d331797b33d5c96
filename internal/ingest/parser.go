package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"
	"sync"

	"doorguard/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
	reSyslogTS  = regexp.MustCompile(`^\s*([A-Za-z]{3}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

// Parser turns controller log lines (JSON, CSV or KEY=VALUE text) into event
// fields.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if strings.HasPrefix(trim, "{") {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") && !strings.Contains(trim, "=") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func parsePlain(line string) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	ts, rest := extractTimestamp(line)
	fields.Timestamp = ts

	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		fields.Extras[strings.ToLower(match[1])] = match[2]
	}
	fields.Location = normalize.FirstNonEmpty(fields.Extras, normalize.LocationAliases...)
	fields.Key = normalize.FirstNonEmpty(fields.Extras, normalize.KeyAliases...)

	if fields.Location == "" && rest != "" {
		if tokens := strings.Fields(rest); len(tokens) > 0 && !strings.Contains(tokens[0], "=") {
			fields.Location = tokens[0]
		}
	}
	return fields
}

func extractTimestamp(line string) (string, string) {
	for _, re := range []*regexp.Regexp{reTimestamp, reSyslogTS} {
		if m := re.FindStringSubmatchIndex(line); len(m) >= 4 {
			return strings.TrimSpace(line[m[2]:m[3]]), strings.TrimSpace(line[m[3]:])
		}
	}
	return "", line
}

// CSVParser remembers the first header row it sees. Without a header the
// column order is timestamp, location, key.
type CSVParser struct {
	mu     sync.Mutex
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	p.mu.Lock()
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		p.mu.Unlock()
		return nil, nil
	}
	header := p.header
	p.mu.Unlock()

	fields := &normalize.EventFields{Extras: map[string]string{}}
	if header != nil {
		for i, name := range header {
			if i >= len(record) {
				break
			}
			fields.Extras[name] = strings.TrimSpace(record[i])
		}
		fields.Timestamp = normalize.FirstNonEmpty(fields.Extras, normalize.TimestampAliases...)
		fields.Location = normalize.FirstNonEmpty(fields.Extras, normalize.LocationAliases...)
		fields.Key = normalize.FirstNonEmpty(fields.Extras, normalize.KeyAliases...)
		return fields, nil
	}
	columns := []*string{&fields.Timestamp, &fields.Location, &fields.Key}
	for i, dst := range columns {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, group := range [][]string{normalize.TimestampAliases, normalize.LocationAliases, normalize.KeyAliases} {
			for _, alias := range group {
				if v == alias {
					return true
				}
			}
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}
