package main

import (
	"encoding/json"

	"github.com/escrow-tf/tradeoffers/polling"
	"github.com/spf13/cobra"
)

var confirmAll bool

var confirmationsCmd = &cobra.Command{
	Use:   "confirmations",
	Short: "List pending mobile confirmations",
	Long: `Lists the account's pending mobile confirmations as JSON. With --confirm, confirmations belonging to
offers found by a full poll are accepted.`,
	RunE: runConfirmations,
}

func init() {
	confirmationsCmd.Flags().BoolVar(&confirmAll, "confirm", false, "confirm every confirmation that matches a tracked offer")
	RootCmd.AddCommand(confirmationsCmd)
}

func runConfirmations(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")

	if !confirmAll {
		pending, err := rt.manager.Confirmations(ctx)
		if err != nil {
			return err
		}
		return encoder.Encode(pending)
	}

	if _, err := rt.manager.PollNow(ctx, polling.FullUpdate); err != nil {
		return err
	}
	report, err := rt.manager.Confirm(ctx)
	if err != nil {
		return err
	}
	return encoder.Encode(report)
}
