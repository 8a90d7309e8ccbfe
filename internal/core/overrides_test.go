package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverridesKeyOrderSensitiveForOverrides(t *testing.T) {
	a := OverridesKey([]string{"base", "prod"}, nil)
	b := OverridesKey([]string{"prod", "base"}, nil)
	require.NotEqual(t, a, b)
}

func TestOverridesKeyOrderInsensitiveForFlavors(t *testing.T) {
	a := OverridesKey([]string{"base"}, []string{"x", "y"})
	b := OverridesKey([]string{"base"}, []string{"y", "x"})
	require.Equal(t, a, b)
}

func TestOverridesKeyStableForSameInput(t *testing.T) {
	a := OverridesKey([]string{"base", "prod"}, []string{"eu"})
	b := OverridesKey([]string{"base", "prod"}, []string{"eu"})
	require.Equal(t, a, b)
}

func TestHasDuplicates(t *testing.T) {
	require.True(t, HasDuplicates([]string{"base", "prod", "base"}))
	require.False(t, HasDuplicates([]string{"base", "prod"}))
	require.False(t, HasDuplicates(nil))
}
