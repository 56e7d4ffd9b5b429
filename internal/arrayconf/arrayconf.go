package arrayconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Drive is one data-drive record from the array definition.
type Drive struct {
	Name string
	Path string
}

// Directive preserves a keyword the parser does not interpret, keeping
// newer engine options intact instead of rejecting them.
type Directive struct {
	Key  string
	Args []string
}

// Config is the parsed array definition. Slices preserve file order and
// must be treated as read-only once Parse returns.
type Config struct {
	ParityFiles  []string
	ContentFiles []string
	DataDrives   []Drive
	Excludes     []string
	Other        []Directive
}

// Parse reads an array definition from raw configuration text. Lines it
// cannot interpret are skipped; Parse never fails.
//
// Recognized directives, matched case-insensitively on the first token:
//
//	parity <path>
//	content <path>
//	data <name> <path>      (legacy alias: disk)
//	exclude <pattern...>
//
// Double quotes keep embedded whitespace inside a token and a token
// starting with '#' comments out the rest of the line. Every other
// keyword is retained verbatim in Other.
func Parse(text string) *Config {
	cfg := &Config{}
	for _, line := range strings.Split(text, "\n") {
		tokens := tokenize(line)
		if len(tokens) == 0 {
			continue
		}
		key, args := tokens[0], tokens[1:]
		switch strings.ToLower(key) {
		case "parity":
			if len(args) >= 1 {
				cfg.ParityFiles = append(cfg.ParityFiles, args[0])
			}
		case "content":
			if len(args) >= 1 {
				cfg.ContentFiles = append(cfg.ContentFiles, args[0])
			}
		case "data", "disk":
			if len(args) >= 2 {
				cfg.DataDrives = append(cfg.DataDrives, Drive{Name: args[0], Path: args[1]})
			}
		case "exclude":
			if len(args) >= 1 {
				cfg.Excludes = append(cfg.Excludes, strings.Join(args, " "))
			}
		default:
			if len(args) == 0 {
				args = nil
			}
			cfg.Other = append(cfg.Other, Directive{Key: key, Args: args})
		}
	}
	return cfg
}

// Load reads and parses the array definition at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read array configuration: %w", err)
	}
	return Parse(string(data)), nil
}

// Format renders the configuration back to directive text. Parsing the
// result reproduces the same recognized lists, so Format/Parse round
// trips are stable.
func (c *Config) Format() string {
	var b strings.Builder
	for _, p := range c.ParityFiles {
		writeDirective(&b, "parity", p)
	}
	for _, path := range c.ContentFiles {
		writeDirective(&b, "content", path)
	}
	for _, d := range c.DataDrives {
		writeDirective(&b, "data", d.Name, d.Path)
	}
	for _, pattern := range c.Excludes {
		writeDirective(&b, "exclude", pattern)
	}
	for _, o := range c.Other {
		writeDirective(&b, o.Key, o.Args...)
	}
	return b.String()
}

// MountPoints returns every filesystem the array depends on: each data
// drive path followed by the parent directory of each parity file.
// Parity entries are named parity1..parityN in file order; duplicate
// parity directories collapse to one entry.
func (c *Config) MountPoints() []Drive {
	drives := make([]Drive, 0, len(c.DataDrives)+len(c.ParityFiles))
	drives = append(drives, c.DataDrives...)
	seen := make(map[string]struct{}, len(c.ParityFiles))
	for i, p := range c.ParityFiles {
		dir := filepath.Dir(p)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		drives = append(drives, Drive{Name: fmt.Sprintf("parity%d", i+1), Path: dir})
	}
	return drives
}

func writeDirective(b *strings.Builder, key string, args ...string) {
	b.WriteString(key)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quoteToken(a))
	}
	b.WriteByte('\n')
}

func quoteToken(tok string) string {
	if tok == "" || strings.ContainsAny(tok, " \t#") {
		return `"` + tok + `"`
	}
	return tok
}

// tokenize splits a directive line into tokens. Double quotes toggle a
// mode where whitespace is kept, a '#' opening a new unquoted token
// discards the remainder of the line, and empty tokens are dropped.
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		case r == '#' && cur.Len() == 0:
			return tokens
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}
