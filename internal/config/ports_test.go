package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortSpec(t *testing.T) {
	ports, err := ParsePortSpec("554,80, 8000-8002,80")
	require.NoError(t, err)
	assert.Equal(t, []int{554, 80, 8000, 8001, 8002}, ports)

	ports, err = ParsePortSpec("8554")
	require.NoError(t, err)
	assert.Equal(t, []int{8554}, ports)
}

func TestParsePortSpecErrors(t *testing.T) {
	for _, spec := range []string{"", "  ", "80,", "abc", "0", "65536", "10-5", "1-x", "-"} {
		_, err := ParsePortSpec(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestFormatPortSpec(t *testing.T) {
	assert.Equal(t, "554,80,8080", FormatPortSpec([]int{554, 80, 8080}))
	assert.Equal(t, "", FormatPortSpec(nil))
}
