package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cifabric/cifabric/internal/config"
	"github.com/cifabric/cifabric/internal/mailbox"
)

var (
	inboxPriority string
	inboxFrom     string
	inboxPurpose  string
)

// openMailbox opens the store without assembling the whole fabric; inbox
// operations are local filesystem work.
func openMailbox() (*mailbox.Store, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	root, err := config.ExpandPath(cfg.Paths.InboxRoot)
	if err != nil {
		return nil, "", err
	}
	return mailbox.NewStore(root), cfg.Identity.Name, nil
}

func inboxPriorities() []mailbox.Priority {
	if inboxPriority != "" {
		return []mailbox.Priority{mailbox.Priority(inboxPriority)}
	}
	// Archive is excluded from day-to-day listings.
	return []mailbox.Priority{mailbox.PriorityUrgent, mailbox.PriorityNormal}
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Work with CI mailboxes",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var inboxSendCmd = &cobra.Command{
	Use:   "send <ci> <message>",
	Short: "Drop a message in another CI's mailbox",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		to, raw := args[0], args[1]
		priority := mailbox.PriorityNormal
		if inboxPriority != "" {
			priority = mailbox.Priority(inboxPriority)
		}
		body, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		msg := mailbox.NewMessage(identity, to, priority, inboxPurpose, body)
		id, err := store.Push(to, priority, msg)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s for %s (%s)\n", id, to, priority)
		return nil
	},
}

var inboxShowCmd = &cobra.Command{
	Use:   "show [ci]",
	Short: "List waiting messages without consuming them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		ci := identity
		if len(args) == 1 {
			ci = args[0]
		}
		total := 0
		for _, priority := range inboxPriorities() {
			msgs, err := store.List(ci, priority, inboxFrom)
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				total++
				tag := string(priority)
				if priority == mailbox.PriorityUrgent {
					tag = color.RedString(tag)
				}
				fmt.Printf("[%s] %s  %s → %s  %s  %s\n",
					tag, msg.ID, msg.From, msg.To, msg.Purpose,
					msg.CreatedAt.Format("2006-01-02 15:04:05"))
			}
		}
		if total == 0 {
			fmt.Println("Inbox empty.")
		}
		return nil
	},
}

var inboxJSONCmd = &cobra.Command{
	Use:   "json [ci]",
	Short: "Dump waiting messages as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		ci := identity
		if len(args) == 1 {
			ci = args[0]
		}
		all := []*mailbox.Message{}
		for _, priority := range inboxPriorities() {
			msgs, err := store.List(ci, priority, inboxFrom)
			if err != nil {
				return err
			}
			all = append(all, msgs...)
		}
		raw, err := json.MarshalIndent(all, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}

var inboxPopCmd = &cobra.Command{
	Use:     "pop [ci]",
	Aliases: []string{"get"},
	Short:   "Take the oldest waiting message, urgent first",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		ci := identity
		if len(args) == 1 {
			ci = args[0]
		}
		for _, priority := range inboxPriorities() {
			msg, err := store.Pop(ci, priority)
			if err != nil {
				return err
			}
			if msg == nil {
				continue
			}
			raw, err := json.MarshalIndent(msg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		}
		fmt.Println("Inbox empty.")
		return nil
	},
}

var inboxCountCmd = &cobra.Command{
	Use:   "count [ci]",
	Short: "Count waiting messages per queue",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		ci := identity
		if len(args) == 1 {
			ci = args[0]
		}
		for _, priority := range mailbox.Priorities {
			n, err := store.Count(ci, priority, inboxFrom)
			if err != nil {
				return err
			}
			fmt.Printf("%-8s %d\n", priority, n)
		}
		return nil
	},
}

var inboxClearCmd = &cobra.Command{
	Use:   "clear [ci]",
	Short: "Silently discard waiting messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, identity, err := openMailbox()
		if err != nil {
			return err
		}
		ci := identity
		if len(args) == 1 {
			ci = args[0]
		}
		for _, priority := range inboxPriorities() {
			if err := store.Clear(ci, priority, inboxFrom); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	inboxCmd.PersistentFlags().StringVar(&inboxPriority, "priority", "", "restrict to one queue (urgent, normal, archive)")
	inboxCmd.PersistentFlags().StringVar(&inboxFrom, "from", "", "restrict to messages from one sender")
	inboxSendCmd.Flags().StringVar(&inboxPurpose, "purpose", "", "purpose tag for the message")
	inboxCmd.AddCommand(inboxSendCmd)
	inboxCmd.AddCommand(inboxShowCmd)
	inboxCmd.AddCommand(inboxJSONCmd)
	inboxCmd.AddCommand(inboxPopCmd)
	inboxCmd.AddCommand(inboxCountCmd)
	inboxCmd.AddCommand(inboxClearCmd)
}
