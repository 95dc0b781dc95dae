package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name   string
		input  string
		exp    *Config
		expErr string
	}{
		{name: "empty", input: "", exp: Default()},
		{
			name: "full",
			input: `
target = "x86"
convention = "regparm"
registers = 3
workers = 1

[passes]
promote_locals = false
constant_propagation = false
dead_code_elimination = true
validate = true
encode = false

[log]
level = "debug"
`,
			exp: &Config{
				Target:     "x86",
				Convention: "regparm",
				Registers:  3,
				Workers:    1,
				Passes:     Passes{DeadCodeElimination: true, Validate: true},
				Log:        Log{Level: "debug"},
			},
		},
		{name: "unknown key", input: "optimise = true", expErr: "optimise"},
		{name: "bad type", input: `workers = "many"`, expErr: "failed to parse config file"},
		{name: "no workers", input: "workers = 0", expErr: "workers must be at least 1, got 0"},
		{name: "negative registers", input: "registers = -1", expErr: "registers must not be negative, got -1"},
		{name: "empty target", input: `target = ""`, expErr: "target must be set"},
		{name: "bad level", input: "[log]\nlevel = \"chatty\"", expErr: `invalid log level "chatty"`},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse([]byte(tc.input))
			if tc.expErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.expErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.exp, c)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("workers = 2\n[passes]\nvalidate = true\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.Workers)
	require.True(t, c.Debug().ValidateSSA)
	require.True(t, c.Passes.ConstantPropagation)
	require.True(t, c.Passes.PromoteLocals)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err)
}

func TestMarshal(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)
	c, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}
