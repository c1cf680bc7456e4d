package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"serve", "migrate", "reconcile", "review", "activity"} {
		assert.True(t, names[want], "missing %s command", want)
	}
}

func TestMigrateCommand(t *testing.T) {
	t.Setenv("CAMPUS_SIGNING_KEY", "0123456789abcdef0123456789abcdef")

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"migrate", "--dsn", "file:" + t.TempDir() + "/campus.db"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "schema version 3")
}

func TestReviewCommandValidatesArguments(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	root.SetArgs([]string{"review", "not-a-uuid", "approve", "--admin", "x"})
	assert.ErrorContains(t, root.Execute(), "invalid request id")

	root.SetArgs([]string{"review", "7f9c2ba4-e88f-4d6b-8a2a-2a6e1d8c4f11", "maybe", "--admin", "x"})
	assert.ErrorContains(t, root.Execute(), "decision must be approve or reject")
}
