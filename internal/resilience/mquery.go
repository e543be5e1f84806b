package resilience

import (
	"regexp"
	"strings"
)

// AcquisitionFunctions are the M library calls that reach a live data source.
var AcquisitionFunctions = []string{
	"Sql.Databases",
	"Sql.Database",
	"Oracle.Database",
	"Odbc.DataSource",
	"Odbc.Query",
	"OleDb.DataSource",
	"Csv.Document",
	"File.Contents",
	"Excel.Workbook",
	"Json.Document",
	"Web.Contents",
	"OData.Feed",
}

var (
	acquisitionPattern = buildAcquisitionPattern()
	errorCheckPattern  = regexp.MustCompile(`\[\s*HasError\s*\]|\botherwise\b`)
	tryPattern         = regexp.MustCompile(`\btry\b`)
	tablePattern       = regexp.MustCompile(`#table\b`)
	bareIdentifier     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func buildAcquisitionPattern() *regexp.Regexp {
	quoted := make([]string, len(AcquisitionFunctions))
	for i, f := range AcquisitionFunctions {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(`(?:^|[^A-Za-z0-9_.#])(` + strings.Join(quoted, "|") + `)\s*\(`)
}

// maskLiterals blanks string literals and comments, preserving byte offsets,
// so keyword scans never match inside them.
func maskLiterals(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); {
		switch {
		case b[i] == '"':
			i++
			for i < len(b) {
				if b[i] == '"' {
					if i+1 < len(b) && b[i+1] == '"' {
						b[i], b[i+1] = ' ', ' '
						i += 2
						continue
					}
					i++
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
				i++
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '/':
			for i < len(b) && b[i] != '\n' {
				b[i] = ' '
				i++
			}
		case b[i] == '/' && i+1 < len(b) && b[i+1] == '*':
			for i < len(b) {
				if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i += 2
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
				i++
			}
		default:
			i++
		}
	}
	return string(b)
}

type acquisitionCall struct {
	Name  string
	Start int
	End   int // one past the closing parenthesis, or -1 when unbalanced
}

// firstAcquisition finds the earliest acquisition call in masked text.
func firstAcquisition(masked string) (acquisitionCall, bool) {
	loc := acquisitionPattern.FindStringSubmatchIndex(masked)
	if loc == nil {
		return acquisitionCall{}, false
	}
	open := loc[1] - 1
	return acquisitionCall{
		Name:  masked[loc[2]:loc[3]],
		Start: loc[2],
		End:   matchClose(masked, open),
	}, true
}

// matchClose returns the index one past the bracket closing the one at open.
func matchClose(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// tryScopes returns the [start,end) byte ranges protected by each try.
// A scope ends at a separator or closer at its own nesting level, or at
// otherwise/catch. let...in blocks nest like brackets.
func tryScopes(masked string) [][2]int {
	var scopes [][2]int
	for _, loc := range tryPattern.FindAllStringIndex(masked, -1) {
		if loc[0] > 0 && (isWordByte(masked[loc[0]-1]) || masked[loc[0]-1] == '#') {
			continue
		}
		start := loc[1]
		end := scanScopeEnd(masked, start)
		scopes = append(scopes, [2]int{start, end})
	}
	return scopes
}

func scanScopeEnd(s string, i int) int {
	depth := 0
	for i < len(s) {
		c := s[i]
		if isWordByte(c) && c != '.' {
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			switch s[i:j] {
			case "let":
				depth++
			case "in":
				if depth == 0 {
					return i
				}
				depth--
			case "otherwise", "catch":
				if depth == 0 {
					return i
				}
			}
			i = j
			continue
		}
		switch c {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return i
			}
			depth--
		case ',':
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return len(s)
}

type tableLiteral struct {
	Columns   []string
	EmptyRows bool
}

// emptyTables parses every #table(...) literal whose type can be read.
func emptyTables(orig, masked string) []tableLiteral {
	var out []tableLiteral
	for _, loc := range tablePattern.FindAllStringIndex(masked, -1) {
		p := &mParser{s: orig, pos: loc[1]}
		if t, ok := p.tableLiteral(); ok {
			out = append(out, t)
		}
	}
	return out
}

type mParser struct {
	s   string
	pos int
}

func (p *mParser) skipWS() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *mParser) accept(tok string) bool {
	p.skipWS()
	if strings.HasPrefix(p.s[p.pos:], tok) {
		p.pos += len(tok)
		return true
	}
	return false
}

func (p *mParser) peek() byte {
	p.skipWS()
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *mParser) tableLiteral() (tableLiteral, bool) {
	var t tableLiteral
	if !p.accept("(") {
		return t, false
	}
	switch {
	case p.accept("type"):
		if !p.accept("table") || !p.accept("[") {
			return t, false
		}
		cols, ok := p.recordTypeFields()
		if !ok {
			return t, false
		}
		t.Columns = cols
	case p.peek() == '{':
		p.pos++
		cols, ok := p.stringList()
		if !ok {
			return t, false
		}
		t.Columns = cols
	default:
		return t, false
	}
	if !p.accept(",") || !p.accept("{") {
		return t, false
	}
	t.EmptyRows = p.accept("}")
	return t, true
}

// recordTypeFields reads `Name = type, #"Other" = type]` after the opening bracket.
func (p *mParser) recordTypeFields() ([]string, bool) {
	var cols []string
	if p.accept("]") {
		return cols, true
	}
	for {
		name, ok := p.fieldName()
		if !ok || !p.accept("=") {
			return nil, false
		}
		cols = append(cols, name)
		depth := 0
		for {
			if p.pos >= len(p.s) {
				return nil, false
			}
			c := p.s[p.pos]
			if depth == 0 && (c == ',' || c == ']') {
				break
			}
			switch c {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			}
			p.pos++
		}
		if p.s[p.pos] == ']' {
			p.pos++
			return cols, true
		}
		p.pos++
	}
}

func (p *mParser) fieldName() (string, bool) {
	p.skipWS()
	if strings.HasPrefix(p.s[p.pos:], `#"`) {
		p.pos++
		return p.stringLiteral()
	}
	start := p.pos
	for p.pos < len(p.s) && (isWordByte(p.s[p.pos]) && p.s[p.pos] != '.') {
		p.pos++
	}
	if p.pos == start {
		return "", false
	}
	return p.s[start:p.pos], true
}

func (p *mParser) stringLiteral() (string, bool) {
	if p.peek() != '"' {
		return "", false
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '"' {
			if p.pos+1 < len(p.s) && p.s[p.pos+1] == '"' {
				sb.WriteByte('"')
				p.pos += 2
				continue
			}
			p.pos++
			return sb.String(), true
		}
		sb.WriteByte(c)
		p.pos++
	}
	return "", false
}

func (p *mParser) stringList() ([]string, bool) {
	var out []string
	if p.accept("}") {
		return out, true
	}
	for {
		v, ok := p.stringLiteral()
		if !ok {
			return nil, false
		}
		out = append(out, v)
		if p.accept("}") {
			return out, true
		}
		if !p.accept(",") {
			return nil, false
		}
	}
}

// RenderColumns formats column names as record type fields of type any.
func RenderColumns(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = quoteIdentifier(c) + " = any"
	}
	return strings.Join(parts, ", ")
}

var mKeywords = map[string]bool{
	"and": true, "as": true, "each": true, "else": true, "error": true, "false": true,
	"if": true, "in": true, "is": true, "let": true, "meta": true, "not": true,
	"null": true, "or": true, "otherwise": true, "section": true, "shared": true,
	"then": true, "true": true, "try": true, "type": true,
}

func quoteIdentifier(name string) string {
	if bareIdentifier.MatchString(name) && !mKeywords[name] {
		return name
	}
	return `#"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
