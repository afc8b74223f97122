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

// armour-policy lexes, parses and type-checks a policy source file,
// printing its BLAKE3 digest on success, without ever starting a proxy.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"armour/internal/armour/lang/parser"
	"armour/internal/armour/lang/program"
	"armour/internal/armour/lang/types"
)

func main() {
	path := flag.String("f", "", "path to a policy source file")
	entry := flag.String("entry", "", "comma-separated required entry points")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "usage: armour-policy -f policy.armour [-entry allow_rest_request,allow_rest_response]")
		os.Exit(2)
	}

	src, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *path, err)
		os.Exit(1)
	}

	prog, err := parser.Parse(string(src))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		os.Exit(1)
	}

	checked, err := types.Check(prog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "type error: %v\n", err)
		os.Exit(1)
	}

	var entries []string
	if *entry != "" {
		entries = strings.Split(*entry, ",")
	}
	compiled := program.New(prog, checked, entries, 0)
	if len(entries) > 0 {
		if err := compiled.RequireEntryPoints(entries); err != nil {
			fmt.Fprintf(os.Stderr, "install error: %v\n", err)
			os.Exit(1)
		}
	}

	hash, err := compiled.Hash()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok: %s (%d functions, %d externals) %x\n", *path, len(compiled.Code), len(compiled.Externals), hash)
}
