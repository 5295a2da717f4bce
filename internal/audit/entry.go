package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of audit lines.
const TimeLayout = "2006-01-02 15:04:05"

// Field is one key/value annotation of an entry.
type Field struct {
	Key   string
	Value string
}

// Entry is a single audit record.
type Entry struct {
	Time    time.Time
	Level   Level
	Message string
	Fields  []Field
}

// Line renders the entry as written to the console and the daily file,
// without a trailing newline.
func (e Entry) Line() string {
	return e.render(false)
}

func (e Entry) render(color bool) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Time.Format(TimeLayout))
	b.WriteString("] [")
	if color {
		b.WriteString(e.Level.color())
		b.WriteString(e.Level.String())
		b.WriteString(ansiReset)
	} else {
		b.WriteString(e.Level.String())
	}
	b.WriteString("] ")
	b.WriteString(e.Message)
	for _, f := range e.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(f.Value))
	}
	return b.String()
}

// payload is the JSON shape published to live subscribers.
type payload struct {
	Time    string            `json:"time"`
	Level   Level             `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func (e Entry) payload() payload {
	p := payload{
		Time:    e.Time.Format(time.RFC3339),
		Level:   e.Level,
		Message: e.Message,
	}
	if len(e.Fields) > 0 {
		p.Fields = make(map[string]string, len(e.Fields))
		for _, f := range e.Fields {
			p.Fields[f.Key] = f.Value
		}
	}
	return p
}

func fields(kv []any) []Field {
	if len(kv) == 0 {
		return nil
	}
	out := make([]Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		value := ""
		if i+1 < len(kv) {
			value = formatValue(kv[i+1])
		}
		out = append(out, Field{Key: key, Value: value})
	}
	return out
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case error:
		return t.Error()
	case time.Duration:
		return t.Round(time.Millisecond).String()
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(t)
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
