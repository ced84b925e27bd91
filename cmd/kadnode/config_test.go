package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KADNODE_PORT", "7000")
	t.Setenv("KADNODE_PEERS", " a.example:6881, ,b.example:6881 ")
	t.Setenv("KADNODE_VERBOSITY", "debug")
	t.Setenv("KADNODE_DISABLE_NAT", "yes")

	cfg := config.NewConfig()
	require.NoError(t, applyEnvOverrides(cfg))

	assert.Equal(t, 7000, cfg.Network.Port)
	assert.Equal(t, []string{"a.example:6881", "b.example:6881"}, cfg.Peers)
	assert.Equal(t, log.VerbosityDebug, cfg.Log.Verbosity)
	assert.True(t, cfg.NAT.Disable)

	t.Log("✅ 环境变量覆盖配置")
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	t.Setenv("KADNODE_PORT", "abc")
	assert.Error(t, applyEnvOverrides(config.NewConfig()))
}

func TestStringList(t *testing.T) {
	var l stringList
	require.NoError(t, l.Set("a:1"))
	require.NoError(t, l.Set("b:2"))
	assert.Equal(t, "a:1,b:2", l.String())
}
