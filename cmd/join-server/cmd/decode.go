package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

var decodeKey string

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decrypt a join-accept PHYPayload",
	Long: `Decrypt a join-accept PHYPayload the way a device does and print its fields.
--key is the AppKey (LoRaWAN 1.0), the NwkKey (1.1 join) or the JSEncKey (1.1 rejoin).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key lorawan.AES128Key
		if err := key.UnmarshalText([]byte(decodeKey)); err != nil {
			return fmt.Errorf("--key: %w", err)
		}

		phy, err := hex.DecodeString(strings.TrimPrefix(args[0], "0x"))
		if err != nil {
			return fmt.Errorf("decode hex: %w", err)
		}

		ja, mic, err := lorawan.DecryptJoinAccept(key, phy)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "JoinNonce:   %s\n", ja.JoinNonce)
		fmt.Fprintf(out, "NetID:       %s\n", ja.NetID)
		fmt.Fprintf(out, "DevAddr:     %s\n", ja.DevAddr)
		fmt.Fprintf(out, "OptNeg:      %t\n", ja.DLSettings.OptNeg)
		fmt.Fprintf(out, "RX1DROffset: %d\n", ja.DLSettings.RX1DROffset)
		fmt.Fprintf(out, "RX2DataRate: %d\n", ja.DLSettings.RX2DataRate)
		fmt.Fprintf(out, "RxDelay:     %d\n", ja.RxDelay)
		if ja.CFList != nil {
			fmt.Fprintf(out, "CFList:      %v\n", ja.CFList.Frequencies)
		}
		fmt.Fprintf(out, "MIC:         %s\n", mic)
		return nil
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeKey, "key", "", "hex encoded decryption key")
	decodeCmd.MarkFlagRequired("key")
}
