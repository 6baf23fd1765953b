package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapPowerStateKnownValues(t *testing.T) {
	require.Equal(t, PowerOn, MapPowerState("poweredOn"))
	require.Equal(t, PowerOff, MapPowerState("poweredOff"))
	require.Equal(t, PowerSuspend, MapPowerState("suspended"))
}

func TestMapPowerStateUnknownValueFallsBack(t *testing.T) {
	require.Equal(t, PowerUnknown, MapPowerState("notReallyAState"))
	require.Equal(t, PowerUnknown, MapPowerState(""))
}
