package errors

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestWithStackTrace(t *testing.T) {
	assert.NoError(t, WithStackTrace(nil))
	assert.NoError(t, WithStackTraceAndPrefix(nil, "prefix"))

	err := WithStackTrace(os.ErrPermission)
	assert.True(t, Is(err, os.ErrPermission))
	assert.Contains(t, ErrorStack(err), "errors_test.go")

	prefixed := WithStackTraceAndPrefix(os.ErrNotExist, "failed to open %s", "x.md")
	assert.Equal(t, "failed to open x.md: file does not exist", prefixed.Error())
	assert.True(t, Is(prefixed, os.ErrNotExist))
}

func TestErrorStackWithoutTrace(t *testing.T) {
	assert.Empty(t, ErrorStack(fmt.Errorf("plain")))
	assert.Empty(t, ErrorStack(nil))
}

func TestErrorWithExitCode(t *testing.T) {
	err := fmt.Errorf("analyze: %w", ErrorWithExitCode{Err: New("bad flag"), ExitCode: 2})

	var withCode ErrorWithExitCode
	require.True(t, As(err, &withCode))
	assert.Equal(t, 2, withCode.ExitCode)
	assert.Equal(t, "analyze: bad flag", err.Error())
}

func TestWithPanicHandling(t *testing.T) {
	action := WithPanicHandling(func(*cli.Context) error {
		panic("boom")
	})

	err := action(nil)
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.NotEmpty(t, ErrorStack(err))
}
