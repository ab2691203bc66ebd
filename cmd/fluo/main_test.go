package main

import (
	"testing"

	"github.com/brizzai/fluo/internal/tokens"
	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "-", mask(""))
	assert.Equal(t, "******", mask("short"))
	assert.Equal(t, "ya29.a******", mask("ya29.a0AfH6SMB"))
}

func TestRecordTableHidesCredentials(t *testing.T) {
	data := recordTable(&tokens.Record{
		UserID:       "admin@example.com",
		AccessToken:  "ya29.secret-access",
		RefreshToken: "1//secret-refresh",
		ExpiresIn:    3599,
	})
	for _, row := range data {
		for _, cell := range row {
			assert.NotContains(t, cell, "secret")
		}
	}
	assert.Equal(t, []string{"expires_in", "3599"}, data[6])
}

func TestCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["token"])
	assert.True(t, names["version"])
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("site-url"))
}
