package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"admin", "create"},
	} {
		cmd, rest, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Empty(t, rest)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestAdminCreateRequiresCredentials(t *testing.T) {
	cmd := newAdminCreateCmd()
	cmd.SetArgs([]string{"--username", "root"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"password" not set`)
}

func TestMigrateRejectsExtraArgs(t *testing.T) {
	cmd := migrateDirectionCmd("up", "", "up")
	assert.Error(t, cmd.Args(cmd, []string{"now"}))
}
