package main

import (
	"encoding/binary"
	"testing"

	"svm/typ"
)

func TestParseArgsBoolsAndVars(t *testing.T) {
	file, opts, disasm, err := parseArgs([]string{"prog.svm", "-fjit", "-fno-verbose", "-stack=4096", "-young=1024", "-disasm"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if file != "prog.svm" {
		t.Fatalf("file = %q, want prog.svm", file)
	}
	if !disasm {
		t.Fatalf("disasm = false, want true")
	}
	if !opts.bools["jit"] {
		t.Fatalf("bools[jit] = false, want true")
	}
	if v, ok := opts.bools["verbose"]; !ok || v {
		t.Fatalf("bools[verbose] = %v, %v; want false, true", v, ok)
	}
	if opts.vars["stack"] != 4096 || opts.vars["young"] != 1024 {
		t.Fatalf("vars = %+v", opts.vars)
	}
}

func TestParseArgsVersionSentinel(t *testing.T) {
	_, _, _, err := parseArgs([]string{"-version"})
	if err != errVersionRequested {
		t.Fatalf("err = %v, want errVersionRequested", err)
	}
	_, _, _, err = parseArgs([]string{"prog.svm", "--version"})
	if err != errVersionRequested {
		t.Fatalf("err = %v, want errVersionRequested", err)
	}
}

func TestParseArgsRejectsUnknownOption(t *testing.T) {
	if _, _, _, err := parseArgs([]string{"prog.svm", "-bogus"}); err == nil {
		t.Fatalf("expected an error for an option matching none of the grammars")
	}
}

func TestParseArgsRejectsExtraPositional(t *testing.T) {
	if _, _, _, err := parseArgs([]string{"prog.svm", "extra.svm"}); err == nil {
		t.Fatalf("expected an error for a second positional argument")
	}
}

func TestParseArgsBadIntValue(t *testing.T) {
	if _, _, _, err := parseArgs([]string{"prog.svm", "-stack=notanumber"}); err == nil {
		t.Fatalf("expected a parse error for a non-integer variable value")
	}
}

func TestRequiredVarValidation(t *testing.T) {
	cases := []struct {
		name    string
		vars    map[string]int64
		wantErr bool
	}{
		{"stack", map[string]int64{"stack": 4096}, false},
		{"stack", map[string]int64{}, true},
		{"young", map[string]int64{"young": 0}, true},
		{"young", map[string]int64{"young": 1000}, true}, // not a multiple of 512
		{"young", map[string]int64{"young": 1024}, false},
		{"old", map[string]int64{"old": 512}, false},
	}
	for _, c := range cases {
		opts := options{vars: c.vars}
		_, err := requiredVar(opts, c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("requiredVar(%q, %v): err=%v, wantErr=%v", c.name, c.vars, err, c.wantErr)
		}
	}
}

func TestFormatResultInt(t *testing.T) {
	buf := make([]byte, 4+typ.WordSize)
	v := int32(-7)
	binary.LittleEndian.PutUint32(buf[:4], uint32(v))
	got := formatResult(buf, typ.CodeInt)
	if got != "int -7" {
		t.Fatalf("formatResult = %q, want %q", got, "int -7")
	}
}

func TestFormatResultPointer(t *testing.T) {
	buf := make([]byte, typ.WordSize+typ.WordSize)
	binary.LittleEndian.PutUint64(buf[:typ.WordSize], 0xdeadbeef)
	got := formatResult(buf, typ.CodePointer)
	if got != "pointer 0xdeadbeef" {
		t.Fatalf("formatResult = %q, want %q", got, "pointer 0xdeadbeef")
	}
}
