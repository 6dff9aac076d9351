package main

import (
	"encoding/json"
	"strconv"

	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var inventoryTradableOnly bool

var inventoryCmd = &cobra.Command{
	Use:   "inventory <steamid64> <appid> <contextid>",
	Short: "Load an inventory with item descriptions",
	Args:  cobra.ExactArgs(3),
	RunE:  runInventory,
}

func init() {
	inventoryCmd.Flags().BoolVar(&inventoryTradableOnly, "tradable", false, "only list tradable items")
	RootCmd.AddCommand(inventoryCmd)
}

func runInventory(cmd *cobra.Command, args []string) error {
	owner, err := steamid.ParseSteamID64(args[0])
	if err != nil {
		return err
	}
	appID, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return eris.Wrapf(err, "invalid appid %q", args[1])
	}
	contextID, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return eris.Wrapf(err, "invalid contextid %q", args[2])
	}

	ctx := cmd.Context()
	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	assets, err := rt.manager.GetInventory(ctx, owner, uint32(appID), contextID, inventoryTradableOnly)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(assets)
}
