// Package treechat implements the treechat command line client: a thin
// surface over the sync engine for listing channels, sending messages,
// managing direct message threads and watching conversations live.
package treechat

import (
	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "treechat",
		Short:         "Group chat client over a remote tree store",
		Long:          "treechat syncs channels, direct messages and unread counters\nfrom a remote tree store and lets you read and send from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.PersistentFlags().String("config", "", "Config file path")
	cmd.PersistentFlags().String("backend", "", "Store backend (memory, redis, websocket)")
	cmd.PersistentFlags().String("as", "", "Identity id override")

	cmd.AddCommand(
		newChannelsCmd(),
		newCreateCmd(),
		newSendCmd(),
		newThreadsCmd(),
		newDMCmd(),
		newWatchCmd(),
	)

	return cmd
}
