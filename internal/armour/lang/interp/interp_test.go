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

package interp

import (
	"context"
	"testing"

	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func mustInterp(t *testing.T, src string) *Interp {
	t.Helper()
	prog, err := parser.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	checked, err := types.Check(prog)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	entry := prog.Funcs[len(prog.Funcs)-1].Name
	p := program.New(prog, checked, []string{entry}, 0)
	return New(p, nil)
}

func run(t *testing.T, src, entry string, args ...Value) Value {
	t.Helper()
	ip := mustInterp(t, src)
	v, err := ip.CallEntryPoint(context.Background(), entry, args)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	return v
}

func TestArithmeticPrecedence(t *testing.T) {
	v := run(t, `fn main() -> i64 { 1 + 2 * 3 }`, "main")
	if v != int64(7) {
		t.Fatalf("got %v, want 7", v)
	}
}

func TestShortCircuitAnd(t *testing.T) {
	// The right operand must never be evaluated once the left side of &&
	// is false: division by zero in the right operand would otherwise
	// surface as a runtime error.
	v := run(t, `fn main() -> bool { false && (1 / 0 == 0) }`, "main")
	if v != false {
		t.Fatalf("got %v, want false", v)
	}
}

func TestReturnPropagatesThroughBlockAndIf(t *testing.T) {
	src := `fn main() -> i64 {
		if true {
			return 5;
		};
		10
	}`
	v := run(t, src, "main")
	if v != int64(5) {
		t.Fatalf("got %v, want 5", v)
	}
}

func TestReturnPropagatesThroughInfix(t *testing.T) {
	// return inside the left operand of + must short-circuit the whole
	// expression rather than being added to anything (spec §8 invariant 4).
	src := `fn f() -> i64 {
		(if true { return 9; } else { 1 }) + 100
	}`
	v := run(t, src, "f")
	if v != int64(9) {
		t.Fatalf("got %v, want 9", v)
	}
}

func TestLetBinding(t *testing.T) {
	src := `fn f(x: i64) -> i64 {
		let y = x + 1;
		y * 2
	}`
	v := run(t, src, "f", int64(4))
	if v != int64(10) {
		t.Fatalf("got %v, want 10", v)
	}
}

func TestFoldAccumulatesInOrder(t *testing.T) {
	src := `fn main() -> i64 {
		fold acc = 0, x in [1, 2, 3, 4] { acc + x }
	}`
	v := run(t, src, "main")
	if v != int64(10) {
		t.Fatalf("got %v, want 10", v)
	}
}

func TestAllShortCircuitsOnFirstFalse(t *testing.T) {
	src := `fn main() -> bool {
		all x in [1, 2, -1, 3] { x > 0 }
	}`
	v := run(t, src, "main")
	if v != false {
		t.Fatalf("got %v, want false", v)
	}
}

func TestAnyFindsMatch(t *testing.T) {
	src := `fn main() -> bool {
		any x in [1, 2, 3] { x == 2 }
	}`
	v := run(t, src, "main")
	if v != true {
		t.Fatalf("got %v, want true", v)
	}
}

func TestMapProducesNewList(t *testing.T) {
	src := `fn main() -> List<i64> {
		map x in [1, 2, 3] { x * 10 }
	}`
	v := run(t, src, "main")
	l, ok := v.(List)
	if !ok || len(l) != 3 {
		t.Fatalf("got %v, want a 3-element list", v)
	}
	want := []int64{10, 20, 30}
	for i, w := range want {
		if l[i] != w {
			t.Fatalf("element %d: got %v, want %v", i, l[i], w)
		}
	}
}

func TestReturnInsideFoldBodyAbortsIteration(t *testing.T) {
	src := `fn main() -> i64 {
		fold acc = 0, x in [1, 2, 3, 4] {
			if x == 3 { return acc; };
			acc + x
		}
	}`
	v := run(t, src, "main")
	// acc is 1 (from x=1) + 2 (from x=2) == 3 when x==3 triggers the return.
	if v != int64(3) {
		t.Fatalf("got %v, want 3", v)
	}
}

func TestUserFunctionCall(t *testing.T) {
	src := `fn double(x: i64) -> i64 { x * 2 }
	fn main() -> i64 { double(21) }`
	v := run(t, src, "main")
	if v != int64(42) {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestIfMatchesRegexCapture(t *testing.T) {
	src := `fn main() -> i64 {
		if "user-42" matches "user-(?P<_id>[0-9]+)" {
			_id
		} else {
			-1
		}
	}`
	v := run(t, src, "main")
	if v != int64(42) {
		t.Fatalf("got %v, want 42", v)
	}
}

func TestDivisionByZeroIsRuntimeError(t *testing.T) {
	ip := mustInterp(t, `fn main() -> i64 { 1 / 0 }`)
	_, err := ip.CallEntryPoint(context.Background(), "main", nil)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	rerr, ok := err.(*RuntimeError)
	if !ok || rerr.Tag != "div-by-zero" {
		t.Fatalf("got %v, want a div-by-zero RuntimeError", err)
	}
}
