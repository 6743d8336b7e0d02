package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reedholm/tradeloop/verify"
)

var (
	verifyLiveTag string
	verifyBTTag   string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check live and replay ledgers for behavioral equivalence",
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyBTTag == "" {
			return fmt.Errorf("--bt-tag is required (e.g. %s_bt_<runid>)", cfg.Data.Tag)
		}
		if verifyLiveTag == "" {
			verifyLiveTag = cfg.Data.Tag
		}

		sym := storageSymbol()
		liveDec, liveTr, err := readNamespace(verifyLiveTag, sym)
		if err != nil {
			return err
		}
		btDec, btTr, err := readNamespace(verifyBTTag, sym)
		if err != nil {
			return err
		}

		fmt.Printf("=== live vs replay equivalence ===\n")
		fmt.Printf("symbol=%s timeframe=%s\n", sym, cfg.Trading.Timeframe)
		fmt.Printf("live_tag=%s\nbt_tag=%s\n\n", verifyLiveTag, verifyBTTag)

		report := verify.Compare(liveDec, btDec, liveTr, btTr)
		fmt.Println(report.String())
		fmt.Println()

		if !report.Pass {
			fmt.Println("OVERALL FAIL: mismatch detected")
			os.Exit(1)
		}
		fmt.Println("OVERALL PASS: lifecycle behavior matches on the synced overlap")
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyLiveTag, "live-tag", "", "live namespace (default: data.tag)")
	verifyCmd.Flags().StringVar(&verifyBTTag, "bt-tag", "", "replay namespace to compare against")
	rootCmd.AddCommand(verifyCmd)
}
