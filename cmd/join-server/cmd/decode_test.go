package cmd

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-join-server/pkg/crypto"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

func TestDecodeCommand(t *testing.T) {
	appKey := lorawan.AES128Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	phy, err := lorawan.PackageJoinAccept(lorawan.JoinAcceptOptions{
		Version: lorawan.Version10,
		Payload: lorawan.JoinAcceptPayload{
			JoinNonce: lorawan.JoinNonce{0, 0, 1},
			NetID:     lorawan.NetID{0, 0, 0x13},
			DevAddr:   lorawan.DevAddr{0x26, 1, 2, 3},
			RxDelay:   1,
		},
		AppKey: appKey,
	})
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"decode", hex.EncodeToString(phy), "--key", appKey.String()})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "DevAddr:     26010203")
	assert.Contains(t, out.String(), "NetID:       000013")
	assert.Contains(t, out.String(), "OptNeg:      false")
}

func TestDecodeCommandBadKey(t *testing.T) {
	rootCmd.SetArgs([]string{"decode", "20", "--key", "zz"})
	assert.Error(t, rootCmd.Execute())
}

func TestPasswdCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"passwd", "admin-pw"})
	require.NoError(t, rootCmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.True(t, crypto.VerifyPassword("admin-pw", hash))
}
