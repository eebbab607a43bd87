package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_PassesValidation(t *testing.T) {
	assert.NoError(t, NewValidator(DefaultConfig()).ValidateAll())
}

func TestConfig_ConfigPathEmptyByDefault(t *testing.T) {
	assert.Equal(t, "", DefaultConfig().ConfigPath())
}
