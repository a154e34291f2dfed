package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current greeting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger(os.Stderr, false)
		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		core := st.newCore()
		defer core.Close()
		res, err := core.GetGreeter(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t(block %d)\n", res.Value, res.BlockNumber)
		return nil
	},
}
