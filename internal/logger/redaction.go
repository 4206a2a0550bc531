package logger

import (
	"io"
	"regexp"
)

const redactedMarker = "[REDACTED]"

// rule masks one kind of credential. When keep is set, the first capture
// group survives so the field name stays readable in the log line.
type rule struct {
	name string
	re   *regexp.Regexp
	keep bool
}

// Redactor masks provider credentials before log lines reach their sink
type Redactor struct {
	rules []rule
}

// NewRedactor creates a redactor that knows the credentials this service handles
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			{name: "anthropic_key", re: regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`)},
			{name: "openai_key", re: regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`)},
			{name: "bearer", re: regexp.MustCompile(`(Bearer\s+)[a-zA-Z0-9._~+/=-]+`), keep: true},
			{name: "search_header", re: regexp.MustCompile(`(?i)(x-api-key["']?\s*[:=]\s*["']?)[^\s"',}]+`), keep: true},
			{name: "credential_field", re: regexp.MustCompile(`(?i)((?:api_key|apikey|password|secret|token)["']?\s*[:=]\s*["']?)[^\s"',}]{6,}`), keep: true},
		},
	}
}

// AddPattern masks every match of pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{name: "custom", re: re})
	return nil
}

// Redact returns s with every known credential masked
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		if rl.keep {
			s = rl.re.ReplaceAllString(s, "${1}"+redactedMarker)
			continue
		}
		s = rl.re.ReplaceAllString(s, redactedMarker)
	}
	return s
}

// Wrap returns a writer that redacts everything written through it
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{out: w, r: r}
}

type redactingWriter struct {
	out io.Writer
	r   *Redactor
}

// Write reports len(p) on success so zerolog does not treat masking as a short write
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.out, w.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
