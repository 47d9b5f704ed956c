package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProductCodePrintsRequestedCount(t *testing.T) {
	out, err := execute(t, "product", "code", "--count", "3")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, code := range lines {
		require.Len(t, code, 8)
		require.Empty(t, strings.Trim(code, "0123456789"))
	}
}

func TestProductCodeRejectsBadCount(t *testing.T) {
	_, err := execute(t, "product", "code", "--count", "0")
	require.Error(t, err)
}

func TestDatabaseCommandsRequireURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, "migrate")
	require.ErrorIs(t, err, errNoDatabase)

	_, err = execute(t, "cashier", "create", "--username", "luis", "--name", "Luis", "--pin", "739154")
	require.ErrorIs(t, err, errNoDatabase)

	_, err = execute(t, "cashier", "deactivate", "--username", "luis")
	require.ErrorIs(t, err, errNoDatabase)
}

func TestCashierCreateRequiresFlags(t *testing.T) {
	_, err := execute(t, "cashier", "create", "--username", "luis")
	require.Error(t, err)
}
