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

// Package ast defines the untyped expression tree produced by the parser
// (spec §4.2) and the typed program declarations consumed by the checker.
package ast

import "armour/internal/armour/lang/token"

// Expr is implemented by every expression node. Loc reports the node's
// source location for diagnostics.
type Expr interface {
	Loc() token.Loc
	exprNode()
}

type Base struct{ At token.Loc }

func (b Base) Loc() token.Loc { return b.At }

// Literal kinds.
type (
	BoolLit struct {
		Base
		Value bool
	}
	IntLit struct {
		Base
		Value int64
	}
	FloatLit struct {
		Base
		Value float64
	}
	StringLit struct {
		Base
		Value string
	}
	DataLit struct {
		Base
		Value []byte
	}
	LabelLit struct {
		Base
		Value string
	}
	UnitLit struct{ Base }
)

func (BoolLit) exprNode()   {}
func (IntLit) exprNode()    {}
func (FloatLit) exprNode()  {}
func (StringLit) exprNode() {}
func (DataLit) exprNode()   {}
func (LabelLit) exprNode()  {}
func (UnitLit) exprNode()   {}

// Var is a bound-variable reference by De Bruijn index (spec §3.3): index 0
// is the innermost binder. Name is retained only for diagnostics.
type Var struct {
	Base
	Index int
	Name  string
}

func (Var) exprNode() {}

// PrefixOp is a unary operator applied to Operand ("!", "-").
type PrefixOp struct {
	Base
	Op      string
	Operand Expr
}

func (PrefixOp) exprNode() {}

// InfixOp is a binary operator applied left-to-right.
type InfixOp struct {
	Base
	Op          string
	Left, Right Expr
}

func (InfixOp) exprNode() {}

// If is `if Cond { Then } else { Else }`. Else may be nil, meaning `()`.
type If struct {
	Base
	Cond Expr
	Then Expr
	Else Expr
}

func (If) exprNode() {}

// IfLetSome is `if let Some(x) = Scrutinee { Then } else { Else }`.
type IfLetSome struct {
	Base
	Scrutinee Expr
	Then      Expr // body has the bound value substituted at index 0
	Else      Expr
}

func (IfLetSome) exprNode() {}

// MatchKind distinguishes regex-pattern matches (against a str) from
// label-pattern matches (against a Label).
type MatchKind int

const (
	MatchRegex MatchKind = iota
	MatchLabel
)

// IfMatches is `if Scrutinee matches Pattern { Then } else { Else }`.
// Captures, in declaration order, are substituted into Then.
type IfMatches struct {
	Base
	Kind      MatchKind
	Scrutinee Expr
	Pattern   string
	Captures  []Capture
	Then      Expr
	Else      Expr
}

func (IfMatches) exprNode() {}

// CaptureType names the coercion applied to a named regex capture.
type CaptureType int

const (
	CaptureStr CaptureType = iota
	CaptureInt             // "_foo" capture names, or `[x as i64]`
	CaptureBase64          // `[x as base64]`
)

// Capture is one named capture group declared in a match pattern.
type Capture struct {
	Name string
	Type CaptureType
}

// Let is `let pattern = Value; Body`, already desugared by the parser into
// a closure application: Body has its De Bruijn index 0 bound to Value's
// result. Names records the tuple-destructuring arity (1 for a plain let).
type Let struct {
	Base
	Names []string
	Value Expr
	Body  Expr
}

func (Let) exprNode() {}

// Block is a `;`-separated sequence; its value is the last expression's
// value unless a `return` fires first.
type Block struct {
	Base
	Exprs []Expr
}

func (Block) exprNode() {}

// ListLit is a list literal.
type ListLit struct {
	Base
	Elems []Expr
}

func (ListLit) exprNode() {}

// TupleLit is a tuple literal; zero elements is `unit`, one element is
// `Some(x)`.
type TupleLit struct {
	Base
	Elems []Expr
}

func (TupleLit) exprNode() {}

// Call invokes a named function (user-defined, built-in, or `ext::method`)
// with Args, evaluated left-to-right. Async marks an `async` call site.
type Call struct {
	Base
	Name  string
	Args  []Expr
	Async bool
}

func (Call) exprNode() {}

// IterKind distinguishes the iterator forms.
type IterKind int

const (
	IterAll IterKind = iota
	IterAny
	IterFilter
	IterFilterMap
	IterMap
	IterFold
	IterForeach
)

// Iter is one of `all`/`any`/`filter`/`filter_map`/`map`/`fold`/`foreach`
// over List, with Body evaluated per element (accumulator-first for fold).
type Iter struct {
	Base
	Kind    IterKind
	Binders []string // element binder name, plus accumulator name for fold
	List    Expr
	Init    Expr // fold's initial accumulator; nil otherwise
	Body    Expr
}

func (Iter) exprNode() {}

// Return wraps Value; it propagates unevaluated through every enclosing
// construct until the function-body stripper consumes it (spec §4.4).
type Return struct {
	Base
	Value Expr
}

func (Return) exprNode() {}

// --- top-level declarations ---

// Param is a typed function parameter.
type Param struct {
	Name string
	Type string // raw type syntax; resolved by the checker
}

// FuncDecl is `fn name(params) -> retType { body }`.
type FuncDecl struct {
	Name    string
	Params  []Param
	RetType string
	Body    Expr
	At      token.Loc
}

// ExternalMethod is one `fn m(T, ...) -> T;` signature inside an external
// block.
type ExternalMethod struct {
	Name    string
	Params  []string
	RetType string
}

// ExternalDecl is `external name "socket" { fn m(...) -> T; ... }`.
type ExternalDecl struct {
	Name    string
	Socket  string
	Methods []ExternalMethod
	At      token.Loc
}

// Program is the full parsed module: an ordered sequence of top-level
// function and external declarations.
type Program struct {
	Funcs     []*FuncDecl
	Externals []*ExternalDecl
}
