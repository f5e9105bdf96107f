package sql

import (
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokSymbol // operators and punctuation
)

type token struct {
	kind tokenKind
	text string // idents upper-cased for keyword checks; raw preserved
	raw  string
	pos  int
}

// keyword reports whether the token is the given bare keyword.
func (t token) keyword(kw string) bool {
	return t.kind == tokIdent && t.text == kw
}

func (t token) symbol(s string) bool {
	return t.kind == tokSymbol && t.text == s
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

// lex tokenizes the whole input up front. Statement texts are short;
// a streaming lexer buys nothing here.
func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			break
		}
		start := l.pos
		c := l.src[l.pos]
		switch {
		case c == '\'':
			s, err := l.lexString()
			if err != nil {
				return nil, err
			}
			l.toks = append(l.toks, token{kind: tokString, text: s, raw: s, pos: start})
		case c == '`':
			id, err := l.lexQuotedIdent()
			if err != nil {
				return nil, err
			}
			l.toks = append(l.toks, token{kind: tokIdent, text: strings.ToUpper(id), raw: id, pos: start})
		case c >= '0' && c <= '9':
			n := l.lexNumber()
			l.toks = append(l.toks, token{kind: tokNumber, text: n, raw: n, pos: start})
		case isIdentStart(rune(c)):
			id := l.lexIdent()
			l.toks = append(l.toks, token{kind: tokIdent, text: strings.ToUpper(id), raw: id, pos: start})
		default:
			sym, err := l.lexSymbol()
			if err != nil {
				return nil, err
			}
			l.toks = append(l.toks, token{kind: tokSymbol, text: sym, raw: sym, pos: start})
		}
	}
	l.toks = append(l.toks, token{kind: tokEOF, pos: len(src)})
	return l.toks, nil
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		// -- line comment
		if c == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '-' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) lexIdent() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *lexer) lexQuotedIdent() (string, error) {
	l.pos++ // opening backtick
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] != '`' {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return "", parseErr("unterminated quoted identifier")
	}
	id := l.src[start:l.pos]
	l.pos++
	return id, nil
}

func (l *lexer) lexNumber() string {
	start := l.pos
	seenDot := false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c >= '0' && c <= '9' {
			l.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		break
	}
	return l.src[start:l.pos]
}

// lexString handles single-quoted literals with '' as the escape for a
// literal quote.
func (l *lexer) lexString() (string, error) {
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return "", parseErr("unterminated string literal")
}

func (l *lexer) lexSymbol() (string, error) {
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "<=", ">=", "!=", "<>":
		l.pos += 2
		if two == "<>" {
			return "!=", nil
		}
		return two, nil
	}
	c := l.src[l.pos]
	switch c {
	case '=', '<', '>', '(', ')', ',', '.', '*', '+', '-', '/', '%', ';':
		l.pos++
		return string(c), nil
	}
	return "", parseErr("unexpected character %q at offset %d", string(c), l.pos)
}
