package main

import (
	"github.com/spf13/cobra"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make a running sync --watch re-read its config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := signalWatcher(watchPIDPath(cc.Cfg.DataDir))
			if err != nil {
				return err
			}

			cc.Statusf("Sent reload to watcher (PID %d).\n", pid)

			return nil
		},
	}
}
