package guestconfig

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetmaskToPrefix(t *testing.T) {
	cases := map[string]int{
		"255.255.255.0":   24,
		"255.255.255.128": 25,
		"255.255.0.0":     16,
		"255.0.0.0":       8,
	}
	for mask, want := range cases {
		got, err := netmaskToPrefix(mask)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestNetmaskToPrefixRejectsGarbage(t *testing.T) {
	_, err := netmaskToPrefix("not-a-mask")
	assert.Error(t, err)
}

func TestBuildScriptContainsExpectedNmcliCalls(t *testing.T) {
	p := Params{NIC: "eth0", IP: "10.0.0.5", Netmask: "255.255.255.0", Gateway: "10.0.0.1", DNS: []string{"8.8.8.8", "1.1.1.1"}}
	script := buildScript(p, 24)

	assert.True(t, strings.Contains(script, "CON='opsnav-eth0'"))
	assert.True(t, strings.Contains(script, "nmcli con add type ethernet ifname \"$NIC\" con-name \"$CON\""))
	assert.True(t, strings.Contains(script, "ipv4.addresses 10.0.0.5/24 ipv4.method manual"))
	assert.True(t, strings.Contains(script, "ipv4.gateway '10.0.0.1'"))
	assert.True(t, strings.Contains(script, "ipv4.dns '8.8.8.8 1.1.1.1'"))
	assert.True(t, strings.Contains(script, "nmcli con up \"$CON\""))
	assert.True(t, strings.Contains(script, "exit 0"))
}

func TestBuildScriptOmitsGatewayAndDNSWhenEmpty(t *testing.T) {
	p := Params{NIC: "eth0", IP: "10.0.0.5", Netmask: "255.255.255.0"}
	script := buildScript(p, 24)

	assert.False(t, strings.Contains(script, "ipv4.gateway"))
	assert.False(t, strings.Contains(script, "ipv4.dns"))
}
