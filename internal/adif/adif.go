// Package adif reads the tagged text format returned by the LoTW report
// endpoint: an optional header closed by <eoh>, records closed by <eor>, and an
// <APP_LoTW_EOF> footer after which everything is ignored.
package adif

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	eohMarker = "<eoh>"
	eorMarker = "<eor>"
	eofMarker = "<app_lotw_eof>"
)

var (
	fieldPattern   = regexp.MustCompile(`<(\w+)(?::(\d+))?(?::\w+)?>([^<]*)`)
	commentPattern = regexp.MustCompile(`//.*`)
)

// Field is a single NAME/value pair. Names are upper case.
type Field struct {
	Name  string
	Value string
}

// Record holds the fields of one record block in the order they appeared.
type Record struct {
	fields []Field
}

// NewRecord builds a record from fields, keeping the last value of repeated names.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.set(strings.ToUpper(f.Name), f.Value)
	}
	return r
}

func (r *Record) set(name, value string) {
	for i := range r.fields {
		if r.fields[i].Name == name {
			r.fields[i].Value = value
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Value: value})
}

// Lookup returns the value of name and whether it is present.
func (r Record) Lookup(name string) (string, bool) {
	name = strings.ToUpper(name)
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Get returns the value of name or "".
func (r Record) Get(name string) string {
	v, _ := r.Lookup(name)
	return v
}

// Fields returns a copy of the fields in document order.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

func (r Record) Len() int {
	return len(r.fields)
}

// Map returns the fields as a map, mainly for tests and debug logging.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.fields))
	for _, f := range r.fields {
		m[f.Name] = f.Value
	}
	return m
}

// Scanner yields records from a response body one block at a time. It cannot
// be rewound.
type Scanner struct {
	body      string
	lower     string
	rec       Record
	discarded int
	done      bool
}

// NewScanner prepares body for scanning: the footer and everything after it is
// dropped, then the header.
func NewScanner(body string) *Scanner {
	s := &Scanner{}
	lower := asciiLower(body)
	if !strings.Contains(lower, eorMarker) && !strings.Contains(lower, "qso_date") {
		s.done = true
		return s
	}
	if i := strings.Index(lower, eofMarker); i >= 0 {
		body, lower = body[:i], lower[:i]
	}
	if i := strings.Index(lower, eohMarker); i >= 0 {
		j := i + len(eohMarker)
		body, lower = body[j:], lower[j:]
	}
	s.body, s.lower = body, lower
	return s
}

// Next advances to the next record carrying a CALL field.
func (s *Scanner) Next() bool {
	for !s.done {
		var block string
		if i := strings.Index(s.lower, eorMarker); i >= 0 {
			block = s.body[:i]
			j := i + len(eorMarker)
			s.body, s.lower = s.body[j:], s.lower[j:]
		} else {
			block = s.body
			s.body, s.lower = "", ""
			s.done = true
		}
		if strings.TrimSpace(block) == "" {
			continue
		}
		rec := parseBlock(block)
		if _, ok := rec.Lookup("CALL"); !ok {
			s.discarded++
			continue
		}
		s.rec = rec
		return true
	}
	s.rec = Record{}
	return false
}

// Record returns the record found by the last successful Next.
func (s *Scanner) Record() Record {
	return s.rec
}

// Discarded counts non-empty blocks dropped for lacking a CALL field.
func (s *Scanner) Discarded() int {
	return s.discarded
}

// Parse drains a scanner over body.
func Parse(body string) ([]Record, int) {
	s := NewScanner(body)
	var out []Record
	for s.Next() {
		out = append(out, s.Record())
	}
	return out, s.Discarded()
}

func parseBlock(block string) Record {
	block = commentPattern.ReplaceAllString(block, "")
	var rec Record
	for _, m := range fieldPattern.FindAllStringSubmatch(block, -1) {
		value := m[3]
		if m[2] != "" {
			if n, err := strconv.Atoi(m[2]); err == nil && n < utf8.RuneCountInString(value) {
				value = string([]rune(value)[:n])
			}
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		rec.set(strings.ToUpper(m[1]), value)
	}
	return rec
}

// asciiLower lowers ASCII letters only so byte offsets match the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
