// Command physio is the terminal client for the PhysioBot chat service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"physio/physio/config"
	"physio/physio/services/client"
	"physio/physio/types"
	"physio/physio/utils/color"
	"physio/physio/utils/logging"

	"github.com/spf13/cobra"
)

const requestTimeout = 15 * time.Second

var (
	cfg       = config.LoadConfig()
	serverURL string
	token     string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "physio",
	Short: "Chat with PhysioBot from the terminal",
	Example: `  # Start a new conversation
  $ physio chat

  # Continue an existing one
  $ physio chat --conversation 3f0c...

  # List your conversations
  $ physio list`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.Disable()
		}
		if token == "" {
			return errors.New("no token: set PHYSIO_TOKEN or pass --token")
		}
		return logging.InitLogger(cfg.LogDir)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list your conversations, most recent first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		list, err := newClient().ListConversations(ctx, "")
		if err != nil {
			return err
		}
		printConversations(list)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "print a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		conv, err := newClient().GetConversation(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(color.Prompt(conv.Title))
		printTranscript(conv.Messages)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "delete a conversation and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		if err := newClient().DeleteConversation(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println(color.Info("deleted " + args[0]))
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive ID",
	Short: "print the archived transcript of a deleted conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()
		data, err := newClient().Archive(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", cfg.ServerURL, "physio server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", cfg.Token, "bearer token")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	chatCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "conversation to continue")

	rootCmd.AddCommand(chatCmd, listCmd, showCmd, deleteCmd, archiveCmd)
}

func newClient() *client.Client {
	return client.New(serverURL, token, nil)
}

func printConversations(list []types.ConversationSummary) {
	if len(list) == 0 {
		fmt.Println(color.Muted("no conversations yet"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Title, c.MessageCount, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func printTranscript(msgs []types.Message) {
	for _, m := range msgs {
		fmt.Printf("%s %s\n", color.Role(string(m.Role), speaker(m.Role)+":"), m.Content)
	}
}

func speaker(r types.Role) string {
	switch r {
	case types.RoleAssistant:
		return "PhysioBot"
	case types.RoleUser:
		return "You"
	}
	return string(r)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
