package sshbootstrap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallCommandDetectsRedHatFamily(t *testing.T) {
	for _, osRelease := range []string{
		`NAME="CentOS Linux"`,
		`NAME="Red Hat Enterprise Linux"`,
		`NAME="Fedora Linux"`,
	} {
		cmd := installCommand(osRelease)
		assert.True(t, strings.Contains(cmd, "yum install -y open-vm-tools"), osRelease)
	}
}

func TestInstallCommandDetectsDebianFamily(t *testing.T) {
	for _, osRelease := range []string{`NAME="Ubuntu"`, `NAME="Debian GNU/Linux"`} {
		cmd := installCommand(osRelease)
		assert.True(t, strings.Contains(cmd, "apt-get install -y open-vm-tools"), osRelease)
	}
}

func TestInstallCommandDetectsAlpine(t *testing.T) {
	cmd := installCommand(`NAME="Alpine Linux"`)
	assert.True(t, strings.Contains(cmd, "apk add open-vm-tools"))
}

func TestInstallCommandFallsBackWhenUnrecognized(t *testing.T) {
	cmd := installCommand(`NAME="SomeExoticDistro"`)
	assert.True(t, strings.Contains(cmd, "yum install") && strings.Contains(cmd, "apt-get install"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello", 3))
}
