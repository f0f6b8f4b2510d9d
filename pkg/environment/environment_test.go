package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainPrecedenceLowToHigh(t *testing.T) {
	chain := NewChain(
		map[string]string{"K": "guest"},
		nil, nil,
		map[string]string{"K": "plan"},
		nil, nil,
		map[string]string{"K": "cli"},
		map[string]string{"K": "test"},
		nil,
	)
	resolved, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "test", resolved["K"], "test environment must win over every lower layer")
}

func TestChainPhaseIntrinsicsWinOverEverything(t *testing.T) {
	chain := NewChain(
		map[string]string{"K": "guest"},
		nil, nil, nil, nil, nil, nil,
		map[string]string{"K": "test"},
		map[string]string{"K": "phase"},
	)
	resolved, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "phase", resolved["K"])
}

func TestChainRereadsEnvFilePerResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.txt")
	require.NoError(t, os.WriteFile(path, []byte("K=one\n"), 0o644))

	chain := NewChain(nil, nil, []string{path}, nil, nil, nil, nil, nil, nil)

	first, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "one", first["K"])

	require.NoError(t, os.WriteFile(path, []byte("K=two\n"), 0o644))

	second, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "two", second["K"], "environment-file must be re-read, not cached from the first Resolve")
}

func TestChainFilePositionBetweenPlanAndCLI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("K: from-file\n"), 0o644))

	chain := NewChain(
		nil, nil, []string{path},
		map[string]string{"K": "plan"},
		nil, nil, nil, nil, nil,
	)
	resolved, err := chain.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "plan", resolved["K"], "plan environment-file is lower priority than plan environment")
}

func TestReadFileKeyValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "env.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nFOO=bar\n\nBAZ=qux\n"), 0o644))

	values, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "bar", "BAZ": "qux"}, values)
}
