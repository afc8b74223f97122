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

// Package parser is a recursive-descent, Pratt-precedence parser that turns
// a token stream into the untyped ast.Expr tree described in spec §4.2.
// Bound variables are resolved to De Bruijn indices as the tree is built:
// the innermost binder in scope always gets index 0, and every later
// binder pushed in front of it shifts it up by one automatically because
// resolution walks the live scope stack at the point of reference.
package parser

import (
	"fmt"
	"strconv"

	"armour/internal/armour/lang/ast"
	"armour/internal/armour/lang/lexer"
	"armour/internal/armour/lang/token"
)

// ParseError reports a syntax error with its location and an expected-token
// hint, per spec §7.
type ParseError struct {
	Loc  token.Loc
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", e.Loc, e.Msg)
}

// Parser holds parser state: the token stream and the current De Bruijn
// scope (innermost name at index 0).
type Parser struct {
	toks  []token.Token
	pos   int
	scope []string
}

// Parse tokenizes and parses src into an ast.Program.
func Parse(src string) (*ast.Program, error) {
	toks, err := lexer.Tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &Parser{toks: toks}
	return p.parseProgram()
}

func (p *Parser) cur() token.Token  { return p.toks[p.pos] }
func (p *Parser) peekType() token.Type { return p.toks[p.pos].Type }

func (p *Parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) expect(tt token.Type) (token.Token, error) {
	if p.peekType() != tt {
		return token.Token{}, &ParseError{Loc: p.cur().Loc, Msg: fmt.Sprintf("expected %s, got %s %q", tt, p.cur().Type, p.cur().Literal)}
	}
	return p.advance(), nil
}

func (p *Parser) at(tt token.Type) bool { return p.peekType() == tt }

func (p *Parser) parseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for !p.at(token.EOI) {
		switch p.peekType() {
		case token.FN:
			fn, err := p.parseFuncDecl()
			if err != nil {
				return nil, err
			}
			prog.Funcs = append(prog.Funcs, fn)
		case token.EXTERNAL:
			ext, err := p.parseExternalDecl()
			if err != nil {
				return nil, err
			}
			prog.Externals = append(prog.Externals, ext)
		default:
			return nil, &ParseError{Loc: p.cur().Loc, Msg: "expected 'fn' or 'external' declaration"}
		}
	}
	return prog, nil
}

func (p *Parser) parseFuncDecl() (*ast.FuncDecl, error) {
	at := p.cur().Loc
	if _, err := p.expect(token.FN); err != nil {
		return nil, err
	}
	name, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	var params []ast.Param
	for !p.at(token.RPAREN) {
		pn, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.COLON); err != nil {
			return nil, err
		}
		ty, err := p.parseTypeSyntax()
		if err != nil {
			return nil, err
		}
		params = append(params, ast.Param{Name: pn.Literal, Type: ty})
		if p.at(token.COMMA) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	retType := "unit"
	if p.at(token.ARROW) {
		p.advance()
		ty, err := p.parseTypeSyntax()
		if err != nil {
			return nil, err
		}
		retType = ty
	}

	// push params innermost-last: last declared param is index 0.
	saved := p.scope
	for i := 0; i < len(params); i++ {
		p.scope = append([]string{params[i].Name}, p.scope...)
	}
	body, err := p.parseBlock()
	p.scope = saved
	if err != nil {
		return nil, err
	}
	return &ast.FuncDecl{Name: name.Literal, Params: params, RetType: retType, Body: body, At: at}, nil
}

func (p *Parser) parseTypeSyntax() (string, error) {
	// Flat type names, List<T>, Tuple<T1,...>, (T,) option sugar, and ().
	if p.at(token.LPAREN) {
		p.advance()
		if p.at(token.RPAREN) {
			p.advance()
			return "unit", nil
		}
		inner, err := p.parseTypeSyntax()
		if err != nil {
			return "", err
		}
		if _, err := p.expect(token.COMMA); err != nil {
			return "", err
		}
		if p.at(token.RPAREN) {
			p.advance()
			return "Option<" + inner + ">", nil
		}
		return "", &ParseError{Loc: p.cur().Loc, Msg: "expected ')' after option element type"}
	}
	name, err := p.expect(token.IDENT)
	if err != nil {
		return "", err
	}
	s := name.Literal
	if p.at(token.LT) {
		p.advance()
		var parts []string
		for {
			t, err := p.parseTypeSyntax()
			if err != nil {
				return "", err
			}
			parts = append(parts, t)
			if p.at(token.COMMA) {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(token.GT); err != nil {
			return "", err
		}
		s = s + "<" + joinComma(parts) + ">"
	}
	return s, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, s := range parts {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

func (p *Parser) parseExternalDecl() (*ast.ExternalDecl, error) {
	at := p.cur().Loc
	p.advance() // external
	name, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	sock, err := p.expect(token.STRING)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	var methods []ast.ExternalMethod
	for !p.at(token.RBRACE) {
		if _, err := p.expect(token.FN); err != nil {
			return nil, err
		}
		mname, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.LPAREN); err != nil {
			return nil, err
		}
		var params []string
		for !p.at(token.RPAREN) {
			ty, err := p.parseTypeSyntax()
			if err != nil {
				return nil, err
			}
			params = append(params, ty)
			if p.at(token.COMMA) {
				p.advance()
			}
		}
		p.advance() // )
		ret := "unit"
		if p.at(token.ARROW) {
			p.advance()
			ty, err := p.parseTypeSyntax()
			if err != nil {
				return nil, err
			}
			ret = ty
		}
		if _, err := p.expect(token.SEMI); err != nil {
			return nil, err
		}
		methods = append(methods, ast.ExternalMethod{Name: mname.Literal, Params: params, RetType: ret})
	}
	p.advance() // }
	return &ast.ExternalDecl{Name: name.Literal, Socket: sock.Literal, Methods: methods, At: at}, nil
}

// parseBlock parses `{ stmt; stmt; ...; lastExpr }`.
func (p *Parser) parseBlock() (ast.Expr, error) {
	at := p.cur().Loc
	if _, err := p.expect(token.LBRACE); err != nil {
		return nil, err
	}
	exprs, err := p.parseStmtSeq()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RBRACE); err != nil {
		return nil, err
	}
	return &ast.Block{Base: ast.Base{At: at}, Exprs: exprs}, nil
}

func (p *Parser) parseStmtSeq() ([]ast.Expr, error) {
	var out []ast.Expr
	for !p.at(token.RBRACE) && !p.at(token.EOI) {
		if p.at(token.LET) {
			e, err := p.parseLet()
			if err != nil {
				return nil, err
			}
			out = append(out, e)
			// parseLet already consumes the rest of the block as its Body,
			// since `let` desugars to a closure application over everything
			// that follows it.
			return out, nil
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if p.at(token.SEMI) {
			p.advance()
			continue
		}
		break
	}
	return out, nil
}

// parseLet parses `let x = e1; rest...` and `let (x, y) = e1; rest...`,
// desugaring to ast.Let whose Body is the parse of everything remaining in
// the enclosing block, with the new binder(s) pushed onto scope.
func (p *Parser) parseLet() (ast.Expr, error) {
	at := p.cur().Loc
	p.advance() // let
	var names []string
	if p.at(token.LPAREN) {
		p.advance()
		for !p.at(token.RPAREN) {
			n, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			names = append(names, n.Literal)
			if p.at(token.COMMA) {
				p.advance()
			}
		}
		p.advance() // )
	} else {
		n, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		names = []string{n.Literal}
	}
	if _, err := p.expect(token.ASSIGN); err != nil {
		return nil, err
	}
	value, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.SEMI); err != nil {
		return nil, err
	}

	saved := p.scope
	for i := 0; i < len(names); i++ {
		p.scope = append([]string{names[i]}, p.scope...)
	}
	bodyExprs, err := p.parseStmtSeq()
	p.scope = saved
	if err != nil {
		return nil, err
	}
	body := exprOrUnitBlock(at, bodyExprs)
	return &ast.Let{Names: names, Value: value, Body: body}, nil
}

func exprOrUnitBlock(at token.Loc, exprs []ast.Expr) ast.Expr {
	if len(exprs) == 1 {
		return exprs[0]
	}
	return &ast.Block{Exprs: exprs}
}

// parseExpr is the entry point for Pratt-style precedence parsing plus the
// non-operator forms (if, return, blocks, lists, tuples, calls, iterators).
func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseBinary(0)
}

var precedence = map[token.Type]int{
	token.OR:     1,
	token.AND:    2,
	token.EQ:     3,
	token.NEQ:    3,
	token.LT:     3,
	token.LE:     3,
	token.GT:     3,
	token.GE:     3,
	token.CONCAT: 4,
	token.PLUS:   4,
	token.MINUS:  4,
	token.STAR:   5,
	token.SLASH:  5,
	token.PCT:    5,
}

func (p *Parser) parseBinary(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := precedence[p.peekType()]
		if !ok || prec < minPrec {
			return left, nil
		}
		opTok := p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.InfixOp{Op: opTok.Literal, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.at(token.NOT) || p.at(token.MINUS) {
		opTok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.PrefixOp{Op: opTok.Literal, Operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression then any trailing `.field(args)`
// method calls, rewriting `x.f(y)` to `f(x, y)` at parse time (spec §4.3).
func (p *Parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.at(token.DOT) {
		p.advance()
		name, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		var args []ast.Expr
		if p.at(token.LPAREN) {
			p.advance()
			args, err = p.parseArgs()
			if err != nil {
				return nil, err
			}
		}
		callArgs := append([]ast.Expr{expr}, args...)
		expr = &ast.Call{Name: name.Literal, Args: callArgs}
	}
	return expr, nil
}

func (p *Parser) parseArgs() ([]ast.Expr, error) {
	var args []ast.Expr
	for !p.at(token.RPAREN) {
		a, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
		if p.at(token.COMMA) {
			p.advance()
		}
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) resolveVar(name string) (int, bool) {
	for i, n := range p.scope {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	at := p.cur().Loc
	switch p.peekType() {
	case token.INT:
		t := p.advance()
		v, err := strconv.ParseInt(t.Literal, 10, 64)
		if err != nil {
			return nil, &ParseError{Loc: at, Msg: "bad integer literal: " + err.Error()}
		}
		return &ast.IntLit{Value: v}, nil
	case token.FLOAT:
		t := p.advance()
		v, err := strconv.ParseFloat(t.Literal, 64)
		if err != nil {
			return nil, &ParseError{Loc: at, Msg: "bad float literal: " + err.Error()}
		}
		return &ast.FloatLit{Value: v}, nil
	case token.STRING:
		t := p.advance()
		return &ast.StringLit{Value: t.Literal}, nil
	case token.BYTESTR:
		t := p.advance()
		return &ast.DataLit{Value: []byte(t.Literal)}, nil
	case token.LABELLIT:
		t := p.advance()
		return &ast.LabelLit{Value: t.Literal}, nil
	case token.TRUE:
		p.advance()
		return &ast.BoolLit{Value: true}, nil
	case token.FALSE:
		p.advance()
		return &ast.BoolLit{Value: false}, nil
	case token.RETURN:
		p.advance()
		if p.at(token.SEMI) || p.at(token.RBRACE) {
			return &ast.Return{Value: &ast.UnitLit{}}, nil
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Return{Value: v}, nil
	case token.IF:
		return p.parseIf()
	case token.LBRACE:
		return p.parseBlock()
	case token.LBRACK:
		return p.parseList()
	case token.LPAREN:
		return p.parseParenOrTuple()
	case token.SOME:
		p.advance()
		if _, err := p.expect(token.LPAREN); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RPAREN); err != nil {
			return nil, err
		}
		return &ast.TupleLit{Elems: []ast.Expr{inner}}, nil
	case token.ALL, token.ANY, token.FILTER, token.FILTER_MAP, token.MAP, token.FOLD, token.FOREACH:
		return p.parseIter()
	case token.ASYNC:
		p.advance()
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call, ok := c.(*ast.Call)
		if !ok {
			return nil, &ParseError{Loc: at, Msg: "'async' must precede a call"}
		}
		call.Async = true
		return call, nil
	case token.IDENT:
		name := p.advance().Literal
		if p.at(token.LPAREN) {
			p.advance()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &ast.Call{Name: name, Args: args}, nil
		}
		if p.at(token.DCOLON) {
			// qualified name, e.g. ext::method — parsed as a call target.
			p.advance()
			method, err := p.expect(token.IDENT)
			if err != nil {
				return nil, err
			}
			full := name + "::" + method.Literal
			if p.at(token.LPAREN) {
				p.advance()
				args, err := p.parseArgs()
				if err != nil {
					return nil, err
				}
				return &ast.Call{Name: full, Args: args}, nil
			}
			return &ast.Call{Name: full}, nil
		}
		if idx, ok := p.resolveVar(name); ok {
			return &ast.Var{Index: idx, Name: name}, nil
		}
		return &ast.Var{Index: -1, Name: name}, nil
	}
	return nil, &ParseError{Loc: at, Msg: fmt.Sprintf("unexpected token %s %q", p.cur().Type, p.cur().Literal)}
}

func (p *Parser) parseParenOrTuple() (ast.Expr, error) {
	p.advance() // (
	if p.at(token.RPAREN) {
		p.advance()
		return &ast.UnitLit{}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.at(token.RPAREN) {
		p.advance()
		return first, nil
	}
	elems := []ast.Expr{first}
	for p.at(token.COMMA) {
		p.advance()
		if p.at(token.RPAREN) {
			break
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	return &ast.TupleLit{Elems: elems}, nil
}

func (p *Parser) parseList() (ast.Expr, error) {
	p.advance() // [
	var elems []ast.Expr
	for !p.at(token.RBRACK) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		if p.at(token.COMMA) {
			p.advance()
		}
	}
	p.advance() // ]
	return &ast.ListLit{Elems: elems}, nil
}

func (p *Parser) parseIf() (ast.Expr, error) {
	p.advance() // if
	if p.at(token.LET) {
		return p.parseIfLet()
	}
	cond, err := p.parseIfCondOrMatches()
	if err != nil {
		return nil, err
	}
	return cond, err
}

// parseIfCondOrMatches parses the condition of a plain `if`, handling the
// special `if expr matches PATTERN` form inline since it needs to bind
// pattern captures before parsing the `then` branch.
func (p *Parser) parseIfCondOrMatches() (ast.Expr, error) {
	scrutinee, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.at(token.MATCHES) {
		p.advance()
		patTok, err := p.expect(token.STRING)
		if err != nil {
			return nil, err
		}
		// default regex; the type checker switches it to MatchLabel when the
		// scrutinee has type Label.
		kind := ast.MatchRegex
		captures := parseCaptureNames(patTok.Literal)

		saved := p.scope
		for i := len(captures) - 1; i >= 0; i-- {
			p.scope = append([]string{captures[i].Name}, p.scope...)
		}
		then, err := p.parseBlock()
		p.scope = saved
		if err != nil {
			return nil, err
		}
		var elseExpr ast.Expr
		if p.at(token.ELSE) {
			p.advance()
			elseExpr, err = p.parseBlock()
			if err != nil {
				return nil, err
			}
		}
		return &ast.IfMatches{Kind: kind, Scrutinee: scrutinee, Pattern: patTok.Literal, Captures: captures, Then: then, Else: elseExpr}, nil
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseExpr ast.Expr
	if p.at(token.ELSE) {
		p.advance()
		if p.at(token.IF) {
			elseExpr, err = p.parseIf()
		} else {
			elseExpr, err = p.parseBlock()
		}
		if err != nil {
			return nil, err
		}
	}
	return &ast.If{Cond: scrutinee, Then: then, Else: elseExpr}, nil
}

// parseCaptureNames extracts named-capture declarations of the form
// `(?P<name>...)`, `[name as i64]` and `[name as base64]` from a raw
// pattern string, in left-to-right order, per spec §4.2/§4.4.
func parseCaptureNames(pattern string) []ast.Capture {
	var out []ast.Capture
	i := 0
	for i < len(pattern) {
		switch {
		case i+4 < len(pattern) && pattern[i:i+4] == "(?P<":
			j := i + 4
			start := j
			for j < len(pattern) && pattern[j] != '>' {
				j++
			}
			name := pattern[start:j]
			typ := ast.CaptureStr
			if len(name) > 0 && name[0] == '_' {
				typ = ast.CaptureInt
			}
			out = append(out, ast.Capture{Name: name, Type: typ})
			i = j + 1
		case pattern[i] == '[':
			j := i + 1
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			inner := pattern[i+1 : j]
			idxAs := indexOf(inner, " as ")
			if idxAs < 0 {
				i++ // a plain bracket group such as a character class
				continue
			}
			typ := ast.CaptureStr
			if containsWord(inner[idxAs:], "i64") {
				typ = ast.CaptureInt
			} else if containsWord(inner[idxAs:], "base64") {
				typ = ast.CaptureBase64
			}
			out = append(out, ast.Capture{Name: inner[:idxAs], Type: typ})
			i = j + 1
		default:
			i++
		}
	}
	return out
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func containsWord(s, w string) bool { return indexOf(s, w) >= 0 }

func (p *Parser) parseIfLet() (ast.Expr, error) {
	p.advance() // let
	if _, err := p.expect(token.SOME); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LPAREN); err != nil {
		return nil, err
	}
	name, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RPAREN); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.ASSIGN); err != nil {
		return nil, err
	}
	scrutinee, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	saved := p.scope
	p.scope = append([]string{name.Literal}, p.scope...)
	then, err := p.parseBlock()
	p.scope = saved
	if err != nil {
		return nil, err
	}
	var elseExpr ast.Expr
	if p.at(token.ELSE) {
		p.advance()
		elseExpr, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return &ast.IfLetSome{Scrutinee: scrutinee, Then: then, Else: elseExpr}, nil
}

var iterKeyword = map[token.Type]ast.IterKind{
	token.ALL:        ast.IterAll,
	token.ANY:        ast.IterAny,
	token.FILTER:     ast.IterFilter,
	token.FILTER_MAP: ast.IterFilterMap,
	token.MAP:        ast.IterMap,
	token.FOLD:       ast.IterFold,
	token.FOREACH:    ast.IterForeach,
}

func (p *Parser) parseIter() (ast.Expr, error) {
	kind := iterKeyword[p.peekType()]
	p.advance()
	var binders []string
	var init ast.Expr
	first, err := p.expect(token.IDENT)
	if err != nil {
		return nil, err
	}
	binders = append(binders, first.Literal)
	if kind == ast.IterFold {
		// `fold acc = init, x in xs { body }`
		if _, err := p.expect(token.ASSIGN); err != nil {
			return nil, err
		}
		init, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if p.at(token.COMMA) {
		p.advance()
		second, err := p.expect(token.IDENT)
		if err != nil {
			return nil, err
		}
		binders = append(binders, second.Literal)
	}
	if _, err := p.expect(token.IN); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	saved := p.scope
	// For a single binder (all/any/filter/map/foreach) the element sits at
	// index 0. For fold (binders = [acc, elem]) the accumulator, although
	// declared first, ends up at index 0 and the element at index 1.
	for i := len(binders) - 1; i >= 0; i-- {
		p.scope = append([]string{binders[i]}, p.scope...)
	}
	body, err := p.parseBlock()
	p.scope = saved
	if err != nil {
		return nil, err
	}
	return &ast.Iter{Kind: kind, Binders: binders, List: list, Init: init, Body: body}, nil
}
