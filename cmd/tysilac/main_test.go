package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const eight = `{"methods": [{
  "name": "Eight", "ret": "i32",
  "blocks": [{"instrs": [
    {"op": "store", "defs": [{"kind": "vreg"}], "uses": [{"kind": "const", "value": 5}]},
    {"op": "add", "defs": [{"kind": "vreg", "index": 1}], "uses": [{"kind": "vreg"}, {"kind": "const", "value": 3}]},
    {"op": "ret", "uses": [{"kind": "vreg", "index": 1}]}
  ]}]
}]}`

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCompile(t *testing.T) {
	methods := writeFile(t, "methods.json", eight)
	noEncode := writeFile(t, "tysila.toml", "[passes]\nencode = false\n[log]\nlevel = 'error'\n")

	tests := []struct {
		name     string
		args     []string
		contains []string
		excludes string
	}{
		{
			name:     "listing",
			args:     []string{"compile", methods},
			contains: []string{"Eight: frame 0\n", "blk0:\n", "\tmov eax, 8:i32\n", "code 55"},
		},
		{
			name:     "json",
			args:     []string{"compile", "-format", "json", methods},
			contains: []string{`"name": "Eight"`, `"mov eax, 8:i32"`, `"code": "55`},
		},
		{
			name:     "no encoding",
			args:     []string{"compile", "-config", noEncode, methods},
			contains: []string{"\tret eax\n"},
			excludes: "code ",
		},
	}

	for _, tc := range tests {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			exitCode, stdOut, _ := runMain(t, tt.args)
			require.Equal(t, 0, exitCode)
			for _, s := range tt.contains {
				require.Contains(t, stdOut, s)
			}
			if tt.excludes != "" {
				require.NotContains(t, stdOut, tt.excludes)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"config"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdOut, "x86")
	require.Contains(t, stdOut, "[passes]")
}

func TestTargets(t *testing.T) {
	exitCode, stdOut, _ := runMain(t, []string{"targets"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "x86\tconventions [regparm sysv]\tregisters 6\n", stdOut)
}

func TestHelp(t *testing.T) {
	exitCode, _, stdErr := runMain(t, []string{"-h"})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdErr, "tysilac CLI\n\nUsage:")
}

func TestErrors(t *testing.T) {
	badJSON := writeFile(t, "bad.json", `{"methods": [{"name": "x", "blocks": [], "extra": 1}]}`)
	badConfig := writeFile(t, "bad.toml", "target = 'mips'\n")
	badConv := writeFile(t, "conv.json", `{"methods": [{"name": "Conv", "convention": "fastcall", "blocks": [{"instrs": [{"op": "ret"}]}]}]}`)

	tests := []struct {
		message string
		args    []string
	}{
		{message: "invalid command", args: []string{"link"}},
		{message: "missing path to methods file", args: []string{"compile"}},
		{message: "invalid format", args: []string{"compile", "-format", "elf", badJSON}},
		{message: "error reading methods", args: []string{"compile", "non-existent.json"}},
		{message: "failed to decode methods", args: []string{"compile", badJSON}},
		{message: "mips", args: []string{"compile", "-config", badConfig, badJSON}},
		{message: "fastcall", args: []string{"compile", badConv}},
	}

	for _, tc := range tests {
		tt := tc
		t.Run(tt.message, func(t *testing.T) {
			exitCode, _, stdErr := runMain(t, tt.args)
			require.Equal(t, 1, exitCode)
			require.Contains(t, stdErr, tt.message)
		})
	}
}

func runMain(t *testing.T, args []string) (int, string, string) {
	t.Helper()
	oldArgs := os.Args
	t.Cleanup(func() {
		os.Args = oldArgs
	})
	os.Args = append([]string{"tysilac"}, args...)

	var exitCode int
	stdOut := &bytes.Buffer{}
	stdErr := &bytes.Buffer{}
	var exited bool
	func() {
		defer func() {
			if r := recover(); r != nil {
				exited = true
			}
		}()
		flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
		doMain(stdOut, stdErr, func(code int) {
			exitCode = code
			panic(code)
		})
	}()

	require.True(t, exited)

	return exitCode, stdOut.String(), stdErr.String()
}
