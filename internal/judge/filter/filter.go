// Package filter screens untrusted source text for library imports before it
// reaches the compiler. It is a textual gate over an allowlist of fully
// qualified name prefixes, not a parser.
package filter

import (
	"strings"

	appErr "codejudge/pkg/errors"
)

const (
	importToken   = "import "
	rejectMessage = "Illegal Library Imported: "
)

// DefaultAllowlist permits primitive wrappers, Math and in-memory or string
// backed stream classes. Nothing touching files, sockets, reflection,
// processes or threads is listed.
var DefaultAllowlist = []string{
	"java.util.",
	"java.math",
	"java.lang.Boolean",
	"java.lang.Byte",
	"java.lang.Character",
	"java.lang.Double",
	"java.lang.Float",
	"java.lang.Integer",
	"java.lang.Long",
	"java.lang.Math",
	"java.lang.Number",
	"java.lang.Object",
	"java.lang.Short",
	"java.lang.String",
	"java.lang.StringBuffer",
	"java.lang.StringBuilder",
	"java.io.BufferedInputStream",
	"java.io.BufferedOutputStream",
	"java.io.BufferedReader",
	"java.io.BufferedWriter",
	"java.io.ByteArrayInputStream",
	"java.io.ByteArrayOutputStream",
	"java.io.CharArrayReader",
	"java.io.CharArrayWriter",
	"java.io.DataInputStream",
	"java.io.DataOutputStream",
	"java.io.Reader",
	"java.io.Writer",
	"java.io.StringReader",
	"java.io.StringWriter",
}

// Filter checks source text against an import allowlist.
type Filter struct {
	allowlist    []string
	skipComments bool
}

// Option configures a Filter.
type Option func(*Filter)

// WithSkipComments blanks // and /* */ comment bodies before scanning.
// String and char literals are still scanned.
func WithSkipComments(enabled bool) Option {
	return func(f *Filter) {
		f.skipComments = enabled
	}
}

// New creates a filter. An empty allowlist selects DefaultAllowlist.
func New(allowlist []string, opts ...Option) *Filter {
	entries := make([]string, 0, len(allowlist))
	for _, entry := range allowlist {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		entries = append(entries, DefaultAllowlist...)
	}
	f := &Filter{allowlist: entries}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check returns nil when every import in source is allowlisted, otherwise an
// ImportRejected error naming the first offending statement.
func (f *Filter) Check(source string) error {
	scanned := source
	if f.skipComments {
		scanned = blankComments(source)
	}

	offset := 0
	for {
		idx := strings.Index(scanned[offset:], importToken)
		if idx < 0 {
			return nil
		}
		start := offset + idx
		pos := start + len(importToken)
		for pos < len(scanned) && isSpace(scanned[pos]) {
			pos++
		}
		if !f.allowed(scanned[pos:]) {
			stmt := statementAt(source, start)
			return appErr.New(appErr.ImportRejected).
				WithMessage(rejectMessage + stmt).
				WithDetail("statement", stmt)
		}
		offset = start + len(importToken)
	}
}

// Allowlist returns a copy of the configured prefixes.
func (f *Filter) Allowlist() []string {
	return append([]string(nil), f.allowlist...)
}

func (f *Filter) allowed(rest string) bool {
	for _, prefix := range f.allowlist {
		if strings.HasPrefix(rest, prefix) {
			return true
		}
	}
	return false
}

// statementAt returns source from start through the next ';' (or to the end).
func statementAt(source string, start int) string {
	end := strings.IndexByte(source[start:], ';')
	if end < 0 {
		return source[start:]
	}
	return source[start : start+end+1]
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
