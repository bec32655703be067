package treechat

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treechat/treechat/internal/models"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream messages from a channel or a direct conversation",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	cmd.Flags().String("channel", "", "Channel id to watch (defaults to the active channel)")
	cmd.Flags().String("dm", "", "Peer id to watch instead of a channel")
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	peerID, _ := cmd.Flags().GetString("dm")
	channelID, _ := cmd.Flags().GetString("channel")

	var source func() []models.Message
	if peerID != "" {
		if err := rt.Engine.StartDM(cmd.Context(), peerID); err != nil {
			return err
		}
		source = rt.Engine.DMMessages
	} else {
		if !rt.WaitSettled(func() bool { return rt.Engine.ActiveChannelID() != "" }) {
			return fmt.Errorf("no channels available")
		}
		if channelID != "" {
			if err := rt.Engine.SetActiveChannel(channelID); err != nil {
				return fmt.Errorf("select channel %q: %w", channelID, err)
			}
		}
		source = rt.Engine.ChannelMessages
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// Messages are ordered by sender clock and each snapshot replaces the
	// list, so printing resumes from the first unseen index after every
	// update. A late arrival that files in before the cursor is skipped
	// rather than reprinted out of order.
	printed := 0
	printNew := func() {
		msgs := source()
		for ; printed < len(msgs); printed++ {
			msg := msgs[printed]
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s\n",
				formatTimestamp(msg.CreatedAt), msg.Author.Name, msg.Text)
		}
	}

	printNew()
	for {
		select {
		case <-rt.Updates():
			printNew()
		case <-interrupt:
			return nil
		case <-cmd.Context().Done():
			return nil
		}
	}
}
