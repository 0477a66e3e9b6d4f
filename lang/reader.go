package lang

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/jitlink/errors"
)

// Form is a value produced by the reader.
type Form interface {
	Line() int
}

// Int is an integer literal.
type Int struct {
	Value int64
	line  int
}

// Symbol is a possibly namespace-qualified symbol.
type Symbol struct {
	NS   string
	Name string
	line int
}

// Keyword is a :keyword.
type Keyword struct {
	Name string
	line int
}

// List is a parenthesized form.
type List struct {
	Items []Form
	line  int
}

// Vector is a bracketed form.
type Vector struct {
	Items []Form
	line  int
}

func (f Int) Line() int     { return f.line }
func (f Symbol) Line() int  { return f.line }
func (f Keyword) Line() int { return f.line }
func (f List) Line() int    { return f.line }
func (f Vector) Line() int  { return f.line }

// String renders the symbol as written.
func (s Symbol) String() string {
	if s.NS == "" {
		return s.Name
	}
	return s.NS + "/" + s.Name
}

// Sym builds a symbol from text, splitting on the first '/'. The lone
// symbol "/" stays unqualified.
func Sym(text string) Symbol {
	if ns, name, ok := strings.Cut(text, "/"); ok && ns != "" && name != "" {
		return Symbol{NS: ns, Name: name}
	}
	return Symbol{Name: text}
}

// Head returns the leading symbol of a list, if any.
func Head(f Form) (Symbol, bool) {
	l, ok := f.(List)
	if !ok || len(l.Items) == 0 {
		return Symbol{}, false
	}
	s, ok := l.Items[0].(Symbol)
	return s, ok
}

// Unquote strips (quote x) wrappers.
func Unquote(f Form) Form {
	for {
		head, ok := Head(f)
		if !ok || head.NS != "" || head.Name != "quote" {
			return f
		}
		l := f.(List)
		if len(l.Items) != 2 {
			return f
		}
		f = l.Items[1]
	}
}

// ReadAll reads every form in src.
func ReadAll(src string) ([]Form, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, errors.Syntax("%v", err)
	}
	p := &parser{tokens: tokens}
	var forms []Form
	for p.pos < len(p.tokens) {
		f, err := p.form()
		if err != nil {
			return nil, err
		}
		forms = append(forms, f)
	}
	return forms, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) form() (Form, error) {
	if p.pos >= len(p.tokens) {
		line := 1
		if len(p.tokens) > 0 {
			line = p.tokens[len(p.tokens)-1].Line
		}
		return nil, errors.Syntax("line %d: unexpected end of input", line)
	}
	tok := p.tokens[p.pos]
	p.pos++

	switch tok.Type {
	case LParen:
		items, err := p.until(RParen, tok.Line)
		if err != nil {
			return nil, err
		}
		return List{Items: items, line: tok.Line}, nil
	case LBracket:
		items, err := p.until(RBracket, tok.Line)
		if err != nil {
			return nil, err
		}
		return Vector{Items: items, line: tok.Line}, nil
	case RParen, RBracket:
		return nil, errors.Syntax("line %d: unexpected %s", tok.Line, tok.Type)
	case Quote:
		inner, err := p.form()
		if err != nil {
			return nil, err
		}
		return List{Items: []Form{Symbol{Name: "quote", line: tok.Line}, inner}, line: tok.Line}, nil
	default:
		return atom(tok)
	}
}

func (p *parser) until(closing TokenType, line int) ([]Form, error) {
	var items []Form
	for {
		if p.pos >= len(p.tokens) {
			return nil, errors.Syntax("line %d: unclosed form, expected %s", line, closing)
		}
		if p.tokens[p.pos].Type == closing {
			p.pos++
			return items, nil
		}
		f, err := p.form()
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
}

func atom(tok Token) (Form, error) {
	text := tok.Value
	if looksNumeric(text) {
		v, err := strconv.ParseInt(strings.ReplaceAll(text, "_", ""), 0, 64)
		if err != nil {
			return nil, errors.Syntax("line %d: invalid integer %q", tok.Line, text)
		}
		return Int{Value: v, line: tok.Line}, nil
	}
	if strings.HasPrefix(text, ":") {
		if len(text) == 1 {
			return nil, errors.Syntax("line %d: empty keyword", tok.Line)
		}
		return Keyword{Name: text[1:], line: tok.Line}, nil
	}
	if strings.HasSuffix(text, "/") && text != "/" {
		return nil, errors.Syntax("line %d: invalid symbol %q", tok.Line, text)
	}
	s := Sym(text)
	s.line = tok.Line
	return s, nil
}

func looksNumeric(text string) bool {
	s := text
	if len(s) > 1 && (s[0] == '-' || s[0] == '+') {
		s = s[1:]
	}
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// Format renders a form back to source text.
func Format(f Form) string {
	switch f := f.(type) {
	case Int:
		return strconv.FormatInt(f.Value, 10)
	case Symbol:
		return f.String()
	case Keyword:
		return ":" + f.Name
	case List:
		return "(" + formatItems(f.Items) + ")"
	case Vector:
		return "[" + formatItems(f.Items) + "]"
	}
	return fmt.Sprintf("%v", f)
}

func formatItems(items []Form) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = Format(it)
	}
	return strings.Join(parts, " ")
}
