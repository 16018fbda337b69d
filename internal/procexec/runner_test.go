package procexec

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_CapturesStdout(t *testing.T) {
	var out bytes.Buffer
	res, err := NewExecRunner().Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "printf %s \"$SITEOPS_GREETING\""},
		Env:    []string{"SITEOPS_GREETING=hello"},
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello", out.String())
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo broken >&2; exit 3"},
	})
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "broken\n", string(res.Stderr))

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecRunner_MissingBinary(t *testing.T) {
	res, err := NewExecRunner().Run(context.Background(), Command{Name: "siteops-no-such-binary"})
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)

	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	_, err := NewExecRunner().Run(context.Background(), Command{
		Name:   "sh",
		Args:   []string{"-c", "pwd -P"},
		Dir:    dir,
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.String())
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "tar", Args: []string{"-czf", "out.tar.gz", "site"}}
	assert.Equal(t, "tar -czf out.tar.gz site", c.String())
}
