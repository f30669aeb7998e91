// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/luxfi/geth/crypto"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
chain_id = 1
node_url = "ws://127.0.0.1:8546"
multicaller_address = "0x78E30497a3c7527d953C6B1E3541b021A98Ac43c"

[[signers]]
private_key = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

[[relays]]
url = "https://relay.flashbots.net"

[[relays]]
url = "https://unsignd.example"
no_sign = true

[backrun]
smart = true

[pools]
threads = 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backrun.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSample(t *testing.T) {
	require := require.New(t)

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(err)
	require.Equal(uint64(1), cfg.ChainID)
	require.Len(cfg.Signers, 1)
	require.Len(cfg.Relays, 2)
	require.True(cfg.Relays[1].NoSign)
	require.True(cfg.Backrun.Smart)
	require.Equal(4, cfg.Pools.Threads)
	require.Equal(DefaultMaxHops, cfg.MaxHops)
	require.Equal(uint32(DefaultTipsPct), cfg.Tips.StartPct)
	require.Len(cfg.Tips.Curve, 2, "default decay breakpoints")
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	require := require.New(t)

	_, err := Load(writeConfig(t, `multicaller_address = "0x01"`+"\n"+`[[relays]]`+"\n"+`url = "x"`))
	require.ErrorIs(err, ErrMissingChainID)

	_, err = Load(writeConfig(t, "chain_id = 1\n[[relays]]\nurl = \"x\""))
	require.ErrorIs(err, ErrMissingMulticaller)

	_, err = Load(writeConfig(t, "chain_id = 1\nmulticaller_address = \"0x01\""))
	require.ErrorIs(err, ErrNoRelays)
}

func TestTipsPctClamped(t *testing.T) {
	cfg := &Config{
		ChainID:     1,
		Multicaller: "0x01",
		Relays:      []RelayConfig{{URL: "x"}},
		Tips:        TipsConfig{StartPct: 20_000},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, uint32(10_000), cfg.Tips.StartPct)
}

func TestKeyWrapRoundTrip(t *testing.T) {
	require := require.New(t)

	key, err := crypto.GenerateKey()
	require.NoError(err)
	hexKey := crypto.FromECDSA(key)

	wrapped, err := EncryptKey(hex.EncodeToString(hexKey), "hunter2")
	require.NoError(err)
	require.NotContains(wrapped, hex.EncodeToString(hexKey), "ciphertext must not leak the key")

	opened, err := DecodeKey(wrapped, "hunter2")
	require.NoError(err)
	require.Equal(key.D, opened.D)

	_, err = DecodeKey(wrapped, "wrong")
	require.ErrorIs(err, ErrBadKeyWrapper)
}

func TestDecodePlainHexKey(t *testing.T) {
	require := require.New(t)
	key, err := crypto.GenerateKey()
	require.NoError(err)

	opened, err := DecodeKey(hex.EncodeToString(crypto.FromECDSA(key)), "")
	require.NoError(err)
	require.Equal(key.D, opened.D)
}
