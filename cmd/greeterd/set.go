package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"greeterd/internal/greeter"
)

var (
	setFrom string
	setWait bool
)

var setCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Submit setGreet(value)",
	Long: `Submit setGreet(value) from the configured keystore account.

Examples:
  greeterd set "hello"
  greeterd set "hello" --wait
  greeterd set "hello" --from 0x70997970C51812dc3A010C7d01b50e0d17dc79C8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger(os.Stderr, false)
		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if setFrom != "" {
			if !common.IsHexAddress(setFrom) {
				return fmt.Errorf("--from %q is not a hex address", setFrom)
			}
			if err := st.session.Connect(common.HexToAddress(setFrom)); err != nil {
				return err
			}
		}
		st.auto.Start(ctx)

		core := st.newCore()
		defer core.Close()

		views := make(chan greeter.View, 16)
		sub := core.SubscribeViews(views)
		defer sub.Unsubscribe()

		hash, err := core.SetGreeter(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, hash.Hex())
		if !setWait {
			return nil
		}

		v := core.View()
		for v.Write.TxHash != hash || v.Write.Pending {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v = <-views:
			}
		}
		if v.Write.Err != nil {
			return fmt.Errorf("%s: %w", v.Write.Status, v.Write.Err)
		}
		// The confirmed re-read may still be running; take the freshest value.
		res, err := core.GetGreeter(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\t(block %d)\n", v.Write.Status, res.Value, res.BlockNumber)
		return nil
	},
}

func init() {
	setCmd.Flags().StringVar(&setFrom, "from", "", "account to send from (default keystore.account)")
	setCmd.Flags().BoolVar(&setWait, "wait", false, "wait for the transaction to reach a terminal state")
}
