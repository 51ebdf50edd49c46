package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInTestModeFollowsEnv(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "no")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
}
