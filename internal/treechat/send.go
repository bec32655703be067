package treechat

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message to the active channel",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSend,
	}
	cmd.Flags().String("channel", "", "Channel id to send to (defaults to the active channel)")
	return cmd
}

func runSend(cmd *cobra.Command, args []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if !rt.WaitSettled(func() bool { return rt.Engine.ActiveChannelID() != "" }) {
		return fmt.Errorf("no channels available")
	}

	if channelID, _ := cmd.Flags().GetString("channel"); channelID != "" {
		if err := rt.Engine.SetActiveChannel(channelID); err != nil {
			return fmt.Errorf("select channel %q: %w", channelID, err)
		}
	}

	return rt.Engine.SendChannelMessage(cmd.Context(), strings.Join(args, " "))
}
