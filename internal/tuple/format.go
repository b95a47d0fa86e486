package tuple

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/scanner"
)

// String renders the canonical text form, e.g. (4, "oui", 2.5, x"0a", ?int)
func (t Tuple) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, f := range t {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (f Field) String() string {
	if f.Wild {
		return "?" + f.Kind.String()
	}
	switch f.Kind {
	case KindInt:
		return strconv.FormatInt(f.Int, 10)
	case KindFloat:
		s := strconv.FormatFloat(f.Float, 'g', -1, 64)
		// keep floats distinguishable from ints when parsed back
		if !strings.ContainsAny(s, ".eEnN") {
			s += ".0"
		}
		return s
	case KindString:
		return strconv.Quote(f.Str)
	case KindBool:
		return strconv.FormatBool(f.Bool)
	case KindBytes:
		return `x"` + hex.EncodeToString(f.Bytes) + `"`
	}
	return "<invalid>"
}

// Parse reads the canonical text form produced by Tuple.String
func Parse(src string) (Tuple, error) {
	p := &parser{}
	p.s.Init(strings.NewReader(src))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	p.s.Error = func(_ *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %s", ErrMalformed, msg)
		}
	}
	p.next()

	t, err := p.tuple()
	if err != nil {
		return nil, err
	}
	if p.tok != scanner.EOF {
		return nil, p.errorf("trailing input %q", p.s.TokenText())
	}
	return t, nil
}

// MustParse is Parse for literals; it panics on error
func MustParse(src string) Tuple {
	t, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	s   scanner.Scanner
	tok rune
	err error
}

func (p *parser) next() { p.tok = p.s.Scan() }

func (p *parser) errorf(format string, args ...any) error {
	if p.err != nil {
		return p.err
	}
	return fmt.Errorf("%w: %s: %s", ErrMalformed, p.s.Position, fmt.Sprintf(format, args...))
}

func (p *parser) expect(r rune) error {
	if p.tok != r {
		return p.errorf("expected %q, got %q", r, p.s.TokenText())
	}
	p.next()
	return nil
}

func (p *parser) tuple() (Tuple, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	t := Tuple{}
	if p.tok == ')' {
		p.next()
		return t, p.err
	}
	for {
		f, err := p.field()
		if err != nil {
			return nil, err
		}
		t = append(t, f)
		if p.tok == ',' {
			p.next()
			continue
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return t, p.err
	}
}

func (p *parser) field() (Field, error) {
	switch p.tok {
	case '?':
		p.next()
		if p.tok != scanner.Ident {
			return Field{}, p.errorf("expected type name after '?'")
		}
		name := p.s.TokenText()
		p.next()
		for k, n := range kindNames {
			if n == name {
				return Field{Kind: k, Wild: true}, nil
			}
		}
		return Field{}, p.errorf("unknown type %q", name)
	case '-', '+':
		neg := p.tok == '-'
		p.next()
		f, err := p.number()
		if err != nil {
			return Field{}, err
		}
		if neg {
			f.Int = -f.Int
			f.Float = -f.Float
		}
		return f, nil
	case scanner.Int, scanner.Float:
		return p.number()
	case scanner.String:
		s, err := strconv.Unquote(p.s.TokenText())
		if err != nil {
			return Field{}, p.errorf("bad string: %v", err)
		}
		p.next()
		return String(s), nil
	case scanner.Ident:
		text := p.s.TokenText()
		switch text {
		case "true", "false":
			p.next()
			return Bool(text == "true"), nil
		case "Inf", "NaN":
			return p.number()
		case "x":
			p.next()
			if p.tok != scanner.String {
				return Field{}, p.errorf("expected quoted hex after x")
			}
			raw, err := strconv.Unquote(p.s.TokenText())
			if err != nil {
				return Field{}, p.errorf("bad bytes: %v", err)
			}
			b, err := hex.DecodeString(raw)
			if err != nil {
				return Field{}, p.errorf("bad bytes: %v", err)
			}
			p.next()
			return Bytes(b), nil
		}
		return Field{}, p.errorf("unexpected identifier %q", text)
	}
	return Field{}, p.errorf("unexpected %q", p.s.TokenText())
}

func (p *parser) number() (Field, error) {
	text := p.s.TokenText()
	switch p.tok {
	case scanner.Int:
		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Field{}, p.errorf("bad int %q: %v", text, err)
		}
		p.next()
		return Int(v), nil
	case scanner.Float:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Field{}, p.errorf("bad float %q: %v", text, err)
		}
		p.next()
		return Float(v), nil
	case scanner.Ident:
		p.next()
		if text == "Inf" {
			return Float(math.Inf(1)), nil
		}
		if text == "NaN" {
			return Float(math.NaN()), nil
		}
	}
	return Field{}, p.errorf("expected number, got %q", text)
}
