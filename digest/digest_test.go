// Copyright 2024 The sg Authors
// This file is part of the sg library.
//
// The sg library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package digest

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	src := "function execute(input) {\n  return input\n}\n"
	a := Of(src)
	b := Of(src)
	if a != b {
		t.Fatalf("expected stable digest, got %s and %s", a.Hex(), b.Hex())
	}
}

func TestOfIgnoresTrailingWhitespace(t *testing.T) {
	a := Of("function execute(input) {   \n  return input\n}")
	b := Of("function execute(input) {\n  return input\n}\n\n\n")
	if a != b {
		t.Fatalf("expected whitespace-insensitive digest, got %s != %s", a.Hex(), b.Hex())
	}
}

func TestOfDistinguishesContent(t *testing.T) {
	a := Of("function execute(input) { return input }")
	b := Of("function execute(input) { return 0 }")
	if a == b {
		t.Fatal("expected distinct sources to produce distinct digests")
	}
}

func TestHexParseRoundTrip(t *testing.T) {
	d := Of("function execute(input) { return input }")
	parsed, err := Parse(Hex(d))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != d {
		t.Fatalf("round trip mismatch: %s != %s", parsed.Hex(), d.Hex())
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse("deadbeef"); err == nil {
		t.Fatal("expected error for short hex digest")
	}
}
