package treechat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newThreadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List direct message threads with unread counts",
		Args:  cobra.NoArgs,
		RunE:  runThreads,
	}
}

func runThreads(cmd *cobra.Command, _ []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.WaitSettled(func() bool { return len(rt.Engine.Threads()) > 0 })
	threads := rt.Engine.Threads()
	if len(threads) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no conversations")
		return nil
	}

	// Counters trail the thread list by one snapshot; give them a beat.
	rt.WaitSettled(func() bool { return len(rt.Engine.UnreadCounts()) >= len(threads) })

	rows := make([][]string, 0, len(threads))
	for _, th := range threads {
		unread := ""
		if n := rt.Engine.UnreadCount(th.PeerID); n > 0 {
			unread = strconv.Itoa(n)
		}
		rows = append(rows, []string{
			th.PeerName, th.PeerID, unread, formatTimestamp(th.LastMessageAt),
		})
	}
	return writeTable(cmd.OutOrStdout(), []string{"NAME", "PEER", "UNREAD", "LAST ACTIVITY"}, rows)
}

func newDMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dm <peer> [text]",
		Short: "Open a direct message thread, optionally sending a message",
		Long:  "dm opens (or resumes) the conversation with a peer and marks it read.\nWith text it also sends a message; without, it prints the history.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDM,
	}
	return cmd
}

func runDM(cmd *cobra.Command, args []string) error {
	rt, err := EnsureRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	peerID := strings.TrimSpace(args[0])
	if err := rt.Engine.StartDM(cmd.Context(), peerID); err != nil {
		return err
	}

	if len(args) > 1 {
		if err := rt.Engine.SendDM(cmd.Context(), strings.Join(args[1:], " ")); err != nil {
			return err
		}
		rt.WaitSettled(func() bool { return len(rt.Engine.DMMessages()) > 0 })
		return nil
	}

	rt.WaitSettled(func() bool { return len(rt.Engine.DMMessages()) > 0 })
	for _, msg := range rt.Engine.DMMessages() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-12s %s\n",
			formatTimestamp(msg.CreatedAt), msg.Author.Name, msg.Text)
	}
	return nil
}
