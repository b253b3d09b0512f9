// Package expr parses and evaluates Structured Text expressions
// against a cloned storage snapshot. Evaluation is strictly
// read-only.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokReal
	tokString
	tokTime
	tokOp // operators and punctuation
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer produces tokens from an ST expression.
type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.toks = append(l.toks, tok)
		if tok.kind == tokEOF {
			return l.toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '\'':
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != '\'' {
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("unterminated string at %d", start)
		}
		l.pos++
		return token{kind: tokString, text: l.src[start+1 : l.pos-1], pos: start}, nil

	case c >= '0' && c <= '9':
		isReal := false
		for l.pos < len(l.src) {
			ch := l.src[l.pos]
			if ch >= '0' && ch <= '9' || ch == '_' {
				l.pos++
			} else if ch == '.' && !isReal && l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
				isReal = true
				l.pos++
			} else if (ch == 'e' || ch == 'E') && l.pos+1 < len(l.src) {
				isReal = true
				l.pos++
				if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
					l.pos++
				}
			} else {
				break
			}
		}
		kind := tokInt
		if isReal {
			kind = tokReal
		}
		return token{kind: kind, text: strings.ReplaceAll(l.src[start:l.pos], "_", ""), pos: start}, nil

	case isIdentStart(rune(c)):
		for l.pos < len(l.src) && isIdentPart(rune(l.src[l.pos])) {
			l.pos++
		}
		word := l.src[start:l.pos]
		// Typed literal prefix: DINT#10, T#5s, TIME#1h30m.
		if l.pos < len(l.src) && l.src[l.pos] == '#' {
			l.pos++
			litStart := l.pos
			for l.pos < len(l.src) && (isIdentPart(rune(l.src[l.pos])) || l.src[l.pos] == '.' || l.src[l.pos] == '-') {
				l.pos++
			}
			payload := l.src[litStart:l.pos]
			upper := strings.ToUpper(word)
			if upper == "T" || upper == "TIME" {
				return token{kind: tokTime, text: payload, pos: start}, nil
			}
			return token{kind: tokIdent, text: upper + "#" + payload, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil

	default:
		two := ""
		if l.pos+1 < len(l.src) {
			two = l.src[l.pos : l.pos+2]
		}
		switch two {
		case "<>", "<=", ">=":
			l.pos += 2
			return token{kind: tokOp, text: two, pos: start}, nil
		}
		switch c {
		case '+', '-', '*', '/', '(', ')', '[', ']', '.', ',', '=', '<', '>':
			l.pos++
			return token{kind: tokOp, text: string(c), pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected character %q at %d", c, start)
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
