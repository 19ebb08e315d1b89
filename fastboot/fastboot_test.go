// Fastboot command server
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fastboot

import (
	"testing"
)

func TestStrtoullBases(t *testing.T) {
	cases := []struct {
		in   string
		val  uint64
		rest string
		ok   bool
	}{
		{"0x1f rest", 0x1f, " rest", true},
		{"0X1F", 0x1f, "", true},
		{"010", 8, "", true},
		{"123abc", 123, "abc", true},
		{"0", 0, "", true},
		{"", 0, "", false},
		{"abc", 0, "abc", false},
	}

	for _, c := range cases {
		val, rest, ok := strtoull(c.in)

		if ok != c.ok || val != c.val || rest != c.rest {
			t.Errorf("strtoull(%q) = (%d, %q, %v), want (%d, %q, %v)", c.in, val, rest, ok, c.val, c.rest, c.ok)
		}
	}
}

func TestSplitFirst(t *testing.T) {
	first, rest := splitFirst("peek 0x1000 4")

	if first != "peek" || rest != "0x1000 4" {
		t.Errorf("got (%q, %q)", first, rest)
	}

	first, rest = splitFirst("echo")

	if first != "echo" || rest != "" {
		t.Errorf("got (%q, %q)", first, rest)
	}
}

func TestIsPrintableASCII(t *testing.T) {
	if !isPrintableASCII('A') || !isPrintableASCII(' ') || !isPrintableASCII('~') {
		t.Error("expected printable ASCII to be accepted")
	}

	if isPrintableASCII(0x00) || isPrintableASCII(0x7f) || isPrintableASCII(0x80) {
		t.Error("expected control/high bytes to be rejected")
	}
}

func TestCmdAllocBadCommand(t *testing.T) {
	s := &Server{}

	if status := s.cmdAlloc("not-a-number", 0); status != "FAILBad command" {
		t.Errorf("got %q, want FAILBad command", status)
	}

	if status := s.cmdAlloc("0x1000", 0); status != "FAILBad command" {
		t.Errorf("got %q, want FAILBad command (missing align)", status)
	}
}

func TestCmdFreeBadCommand(t *testing.T) {
	s := &Server{}

	if status := s.cmdFree("0x1000"); status != "FAILBad command" {
		t.Errorf("got %q, want FAILBad command", status)
	}

	if status := s.cmdFree("0x1000 0x10 0x10 extra"); status != "FAILBad command" {
		t.Errorf("got %q, want FAILBad command (trailing garbage)", status)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	s := &Server{}

	if status := s.dispatch("not-a-command"); status != "FAILUnknown command" {
		t.Errorf("got %q, want FAILUnknown command", status)
	}

	if status := s.cmdOem("not-a-subcommand"); status != "FAILUnknown command" {
		t.Errorf("got %q, want FAILUnknown command", status)
	}
}
