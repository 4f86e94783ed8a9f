package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fiberlocal/internal/config"
	"github.com/calvinalkan/fiberlocal/pkg/fls"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// testEnv points XDG_CONFIG_HOME at an empty temp dir so the user's real
// config is never read.
func testEnv(t *testing.T) (map[string]string, string) {
	t.Helper()

	xdg := t.TempDir()

	return map[string]string{"XDG_CONFIG_HOME": xdg}, filepath.Join(xdg, "fls", "config.json")
}

func Test_Load_Returns_Defaults_When_No_Config_Exists(t *testing.T) {
	t.Parallel()

	env, _ := testEnv(t)

	cfg, sources, err := config.Load(t.TempDir(), "", config.Overrides{}, env)
	require.NoError(t, err)

	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, config.Sources{}, sources)
}

func Test_Load_Applies_Precedence_When_Every_Layer_Sets_Values(t *testing.T) {
	t.Parallel()

	env, globalPath := testEnv(t)
	dir := t.TempDir()

	writeFile(t, globalPath, `{"local_capacity": 10, "borrow_batch": 2, "workers": 3}`)
	writeFile(t, filepath.Join(dir, config.FileName), `{
		// project wins over global
		"borrow_batch": 5,
		"workers": 6,
	}`)

	cfg, sources, err := config.Load(dir, "", config.Overrides{Workers: 9}, env)
	require.NoError(t, err)

	want := config.Config{LocalCapacity: 10, BorrowBatch: 5, Workers: 9}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, globalPath, sources.Global)
	require.Equal(t, filepath.Join(dir, config.FileName), sources.Project)
}

func Test_Load_Uses_Explicit_File_When_Config_Path_Given(t *testing.T) {
	t.Parallel()

	env, _ := testEnv(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, config.FileName), `{"workers": 2}`)
	writeFile(t, filepath.Join(dir, "custom.json"), `{"local_capacity": 77}`)

	cfg, sources, err := config.Load(dir, "custom.json", config.Overrides{}, env)
	require.NoError(t, err)
	require.Equal(t, 77, cfg.LocalCapacity)
	require.Equal(t, config.Default().Workers, cfg.Workers, "project file must be skipped")
	require.Equal(t, filepath.Join(dir, "custom.json"), sources.Project)
}

func Test_Load_Returns_ErrConfigFileNotFound_When_Explicit_File_Missing(t *testing.T) {
	t.Parallel()

	env, _ := testEnv(t)

	_, _, err := config.Load(t.TempDir(), "nope.json", config.Overrides{}, env)
	require.ErrorIs(t, err, config.ErrConfigFileNotFound)
	require.Contains(t, err.Error(), "nope.json")
}

func Test_Load_Returns_ErrConfigInvalid_When_File_Is_Bad(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{name: "syntax", content: `{invalid json}`, wantMsg: "invalid JSONC"},
		{name: "type", content: `{"workers": "four"}`, wantMsg: "invalid JSON"},
		{name: "zero", content: `{"borrow_batch": 0}`, wantMsg: "borrow_batch must be positive"},
		{name: "negative", content: `{"local_capacity": -3}`, wantMsg: "local_capacity must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, _ := testEnv(t)
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, config.FileName), tt.content)

			_, _, err := config.Load(dir, "", config.Overrides{}, env)
			require.ErrorIs(t, err, config.ErrConfigInvalid)
			require.True(t, strings.Contains(err.Error(), tt.wantMsg), "error %q lacks %q", err, tt.wantMsg)
		})
	}
}

func Test_Load_Returns_ErrConfigInvalid_When_Override_Is_Negative(t *testing.T) {
	t.Parallel()

	env, _ := testEnv(t)

	_, _, err := config.Load(t.TempDir(), "", config.Overrides{Workers: -1}, env)
	require.ErrorIs(t, err, config.ErrConfigInvalid)
}

func Test_Format_Writes_Snake_Case_Keys_When_Called(t *testing.T) {
	t.Parallel()

	out, err := config.Format(config.Config{LocalCapacity: 1, BorrowBatch: 2, Workers: 3})
	require.NoError(t, err)
	require.Contains(t, out, `"local_capacity": 1`)
	require.Contains(t, out, `"borrow_batch": 2`)
	require.Contains(t, out, `"workers": 3`)
}

func Test_Default_Matches_Pool_Defaults_When_Process_Starts(t *testing.T) {
	t.Parallel()

	require.Equal(t, fls.DefaultPoolOptions(), config.Default().PoolOptions())
}
