// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lexer tokenizes policy-language source into a stream of located
// tokens, as described in spec §4.1.
package lexer

import (
	"fmt"
	"strings"
	"unicode"

	"armour/internal/armour/lang/token"
)

// Lexer tokenizes a source string.
type Lexer struct {
	src  []rune
	pos  int
	line int
	col  int
}

// New returns a Lexer positioned at the start of src.
func New(src string) *Lexer {
	return &Lexer{src: []rune(src), line: 1, col: 1}
}

// Tokenize runs the lexer to completion and returns every token, including
// the trailing EOI sentinel. A lexical error is returned with its location.
func Tokenize(src string) ([]token.Token, error) {
	l := New(src)
	var out []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Type == token.EOI {
			return out, nil
		}
	}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *Lexer) advance() rune {
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		r := l.peek()
		if unicode.IsSpace(r) {
			l.advance()
			continue
		}
		if r == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.src) && l.peek() != '\n' {
				l.advance()
			}
			continue
		}
		break
	}
}

// Next returns the next token in the stream, or an end-of-input sentinel
// once the source is exhausted.
func (l *Lexer) Next() (token.Token, error) {
	l.skipSpaceAndComments()
	loc := token.Loc{Line: l.line, Col: l.col}
	if l.pos >= len(l.src) {
		return token.Token{Type: token.EOI, Loc: loc}, nil
	}
	r := l.peek()
	switch {
	case r == 'b' && l.peekAt(1) == '"':
		l.advance()
		return l.lexBytes(loc)
	case unicode.IsLetter(r) || r == '_':
		return l.lexIdent(loc)
	case unicode.IsDigit(r):
		return l.lexNumber(loc)
	case r == '-' && unicode.IsDigit(l.peekAt(1)):
		return l.lexNumber(loc)
	case r == '"':
		return l.lexString(loc)
	case r == '\'':
		return l.lexLabel(loc)
	}
	return l.lexOperator(loc)
}

func (l *Lexer) lexIdent(loc token.Loc) (token.Token, error) {
	var b strings.Builder
	for l.pos < len(l.src) && (unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_') {
		b.WriteRune(l.advance())
	}
	s := b.String()
	return token.Token{Type: token.Lookup(s), Literal: s, Loc: loc}, nil
}

func (l *Lexer) lexNumber(loc token.Loc) (token.Token, error) {
	var b strings.Builder
	if l.peek() == '-' {
		b.WriteRune(l.advance())
	}
	for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
		b.WriteRune(l.advance())
	}
	isFloat := false
	if l.peek() == '.' && unicode.IsDigit(l.peekAt(1)) {
		isFloat = true
		b.WriteRune(l.advance())
		for l.pos < len(l.src) && unicode.IsDigit(l.peek()) {
			b.WriteRune(l.advance())
		}
	}
	s := b.String()
	// "recognized greedily, then downgraded to int if exact" (spec §4.1)
	if isFloat {
		intPart, frac, _ := strings.Cut(s, ".")
		if strings.Trim(frac, "0") == "" {
			s = intPart
			isFloat = false
		}
	}
	if isFloat {
		return token.Token{Type: token.FLOAT, Literal: s, Loc: loc}, nil
	}
	return token.Token{Type: token.INT, Literal: s, Loc: loc}, nil
}

func (l *Lexer) lexString(loc token.Loc) (token.Token, error) {
	l.advance() // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token.Token{}, fmt.Errorf("lexer: unterminated string at %s", loc)
		}
		r := l.advance()
		if r == '"' {
			break
		}
		if r == '\\' {
			if l.pos >= len(l.src) {
				return token.Token{}, fmt.Errorf("lexer: unterminated escape at %s", loc)
			}
			esc := l.advance()
			switch esc {
			case '\\':
				b.WriteRune('\\')
			case '"':
				b.WriteRune('"')
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				return token.Token{}, fmt.Errorf("lexer: unknown escape \\%c at %s", esc, loc)
			}
			continue
		}
		b.WriteRune(r)
	}
	return token.Token{Type: token.STRING, Literal: b.String(), Loc: loc}, nil
}

func (l *Lexer) lexBytes(loc token.Loc) (token.Token, error) {
	tok, err := l.lexString(loc)
	if err != nil {
		return tok, err
	}
	tok.Type = token.BYTESTR
	return tok, nil
}

func (l *Lexer) lexLabel(loc token.Loc) (token.Token, error) {
	l.advance() // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token.Token{}, fmt.Errorf("lexer: unterminated label literal at %s", loc)
		}
		r := l.advance()
		if r == '\'' {
			break
		}
		b.WriteRune(r)
	}
	return token.Token{Type: token.LABELLIT, Literal: b.String(), Loc: loc}, nil
}

type opRule struct {
	text string
	typ  token.Type
}

// longest-match-first operator table.
var opRules = []opRule{
	{"::", token.DCOLON},
	{"->", token.ARROW},
	{"==", token.EQ},
	{"!=", token.NEQ},
	{"<=", token.LE},
	{">=", token.GE},
	{"&&", token.AND},
	{"||", token.OR},
	{"++", token.CONCAT},
	{"<", token.LT},
	{">", token.GT},
	{"+", token.PLUS},
	{"-", token.MINUS},
	{"*", token.STAR},
	{"/", token.SLASH},
	{"%", token.PCT},
	{"!", token.NOT},
	{"=", token.ASSIGN},
	{",", token.COMMA},
	{";", token.SEMI},
	{":", token.COLON},
	{".", token.DOT},
	{"(", token.LPAREN},
	{")", token.RPAREN},
	{"{", token.LBRACE},
	{"}", token.RBRACE},
	{"[", token.LBRACK},
	{"]", token.RBRACK},
	{"|", token.PIPE},
	{"?", token.QMARK},
}

func (l *Lexer) lexOperator(loc token.Loc) (token.Token, error) {
	rest := string(l.src[l.pos:])
	for _, rule := range opRules {
		if strings.HasPrefix(rest, rule.text) {
			for range rule.text {
				l.advance()
			}
			return token.Token{Type: rule.typ, Literal: rule.text, Loc: loc}, nil
		}
	}
	bad := l.advance()
	return token.Token{}, fmt.Errorf("lexer: unexpected character %q at %s", bad, loc)
}
