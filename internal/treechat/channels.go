package treechat

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels, oldest first",
		Args:  cobra.NoArgs,
		RunE:  runChannels,
	}
}

func runChannels(cmd *cobra.Command, _ []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.WaitSettled(func() bool { return len(rt.Engine.Channels()) > 0 })
	channels := rt.Engine.Channels()
	if len(channels) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no channels")
		return nil
	}

	activeID := rt.Engine.ActiveChannelID()
	rows := make([][]string, 0, len(channels))
	for _, ch := range channels {
		marker := ""
		if ch.ID == activeID {
			marker = "*"
		}
		rows = append(rows, []string{
			marker, ch.Name, strconv.Itoa(len(ch.Members)), formatTimestamp(ch.CreatedAt), ch.ID,
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"", "NAME", "MEMBERS", "CREATED", "ID"}, rows)
}

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a channel and select it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	cmd.Flags().String("description", "", "Channel description")
	return cmd
}

func runCreate(cmd *cobra.Command, args []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	description, _ := cmd.Flags().GetString("description")
	id, err := rt.Engine.CreateChannel(cmd.Context(), args[0], description)
	if err != nil {
		return err
	}
	// Stay up long enough for the repair pass to backfill members.
	rt.WaitSettled(func() bool {
		for _, ch := range rt.Engine.Channels() {
			if ch.ID == id {
				return true
			}
		}
		return false
	})
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func formatTimestamp(millis int64) string {
	if millis == 0 {
		return "-"
	}
	return time.UnixMilli(millis).Format("2006-01-02 15:04")
}
