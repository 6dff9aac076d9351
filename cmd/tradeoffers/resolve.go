package main

import (
	"encoding/json"

	"github.com/escrow-tf/tradeoffers/classinfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <appid_classid_instanceid>...",
	Short: "Resolve item descriptions through the classinfo cache",
	Long: `Resolves the given classinfo keys from the cache, the configured store or steam, and prints them as
JSON. Keys that could not be resolved are reported with their error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	RootCmd.AddCommand(resolveCmd)
}

type resolved struct {
	Key       string               `json:"key"`
	ClassInfo *classinfo.ClassInfo `json:"classinfo,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	keys := make([]classinfo.Key, 0, len(args))
	for _, arg := range args {
		key, err := classinfo.ParseKey(arg)
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}

	ctx := cmd.Context()
	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.close(ctx)

	results := rt.manager.Resolve(ctx, keys)

	output := make([]resolved, 0, len(keys))
	for _, key := range keys {
		result := results[key]
		entry := resolved{Key: key.String(), ClassInfo: result.ClassInfo}
		if result.Err != nil {
			entry.Error = result.Err.Error()
			rt.logger.Warn("could not resolve classinfo", zap.Stringer("key", key), zap.Error(result.Err))
		}
		output = append(output, entry)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
