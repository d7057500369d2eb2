package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/render"
)

var (
	chatAgent    string
	exportFormat string
	exportOut    string
	showStyle    string
	showWidth    int
	showRaw      bool
)

var chatsCmd = &cobra.Command{
	Use:     "chats",
	Aliases: []string{"chat"},
	Short:   "Manage chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		list := s.ws.Chats.List()
		if len(list) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no chats"))
			return nil
		}
		active := s.ws.Chats.State().ActiveChat
		rows := make([][]string, 0, len(list))
		for _, c := range list {
			mark := " "
			if c.ID == active {
				mark = activeStyle.Render("*")
			}
			agent := s.ws.AgentFor(c)
			name := agent.Name
			if agent.IsUnknown() {
				name = mutedStyle.Render(name)
			}
			rows = append(rows, []string{mark, c.ID, render.Truncate(c.Name, 40), name, render.Ago(c.CreatedAt)})
		}
		printTable(cmd, []string{"", "ID", "NAME", "AGENT", "CREATED"}, rows)
		return nil
	},
}

var chatsNewCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a chat and select it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		c, err := s.ws.NewChat(ctx, args[0], chatAgent)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s (%s)\n", headerStyle.Render(c.Name), c.ID)
		return nil
	},
}

var chatsQuickCmd = &cobra.Command{
	Use:   "quick <agent-id>",
	Short: "Start a chat with an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		c, err := s.ws.QuickStart(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s (%s)\n", headerStyle.Render(c.Name), c.ID)
		return nil
	},
}

var chatsSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Make a chat active and fetch its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		if err := s.ws.Chats.Select(ctx, args[0]); err != nil {
			return err
		}
		msgs, _ := s.ws.Chats.Messages(args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (%d messages)\n", args[0], len(msgs))
		return nil
	},
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		c, err := s.ws.Chats.Rename(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed to %s\n", headerStyle.Render(c.Name))
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		if err := s.ws.Chats.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", args[0])
		return nil
	},
}

var chatsDuplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "Create an empty copy of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		c, err := s.ws.Chats.Duplicate(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s (%s)\n", headerStyle.Render(c.Name), c.ID)
		return nil
	},
}

var chatsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Print a chat's messages",
	Long:  `Print a chat's messages. Without an id the active chat is shown.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		id, err := activeOrArg(s.ws, args)
		if err != nil {
			return err
		}
		if err := s.ws.Chats.Select(ctx, id); err != nil {
			return err
		}
		chat, _ := s.ws.Chats.Get(id)
		msgs, _ := s.ws.Chats.Messages(id)
		agent := s.ws.AgentFor(chat)

		var term *render.Terminal
		if !showRaw {
			if term, err = render.NewTerminal(showStyle, showWidth); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s\n\n", headerStyle.Render(chat.Name), mutedStyle.Render("with "+agent.Name))
		for _, m := range msgs {
			printMessage(out, m, agent, term)
		}
		return nil
	},
}

func printMessage(w io.Writer, m models.Message, agent models.Agent, term *render.Terminal) {
	who := userStyle.Render("You")
	if m.Sender == models.SenderAgent {
		who = agentStyle.Render(agent.Name)
	}
	fmt.Fprintf(w, "%s %s\n", who, mutedStyle.Render(render.Ago(m.Timestamp)))
	body := m.Content
	if term != nil {
		body = term.Render(body)
	}
	fmt.Fprintln(w, body)
	for _, a := range m.Attachments {
		fmt.Fprintln(w, mutedStyle.Render("  [attachment] "+a.Name))
	}
	fmt.Fprintln(w)
}

var chatsExportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Write a chat transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := render.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		id, err := activeOrArg(s.ws, args)
		if err != nil {
			return err
		}
		if err := s.ws.Chats.Select(ctx, id); err != nil {
			return err
		}
		chat, _ := s.ws.Chats.Get(id)
		msgs, _ := s.ws.Chats.Messages(id)

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}
		return render.Transcript(w, chat, s.ws.AgentFor(chat), msgs, format)
	},
}

func init() {
	chatsNewCmd.Flags().StringVarP(&chatAgent, "agent", "a", "", "Agent id")
	_ = chatsNewCmd.MarkFlagRequired("agent")

	chatsShowCmd.Flags().StringVar(&showStyle, "style", "auto", "Markdown style (auto, dark, light, notty)")
	chatsShowCmd.Flags().IntVar(&showWidth, "width", 80, "Wrap width")
	chatsShowCmd.Flags().BoolVar(&showRaw, "raw", false, "Print message content without rendering markdown")

	chatsExportCmd.Flags().StringVarP(&exportFormat, "format", "f", "text", "Format (text, markdown, html)")
	chatsExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")

	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsNewCmd)
	chatsCmd.AddCommand(chatsQuickCmd)
	chatsCmd.AddCommand(chatsSelectCmd)
	chatsCmd.AddCommand(chatsRenameCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	chatsCmd.AddCommand(chatsDuplicateCmd)
	chatsCmd.AddCommand(chatsShowCmd)
	chatsCmd.AddCommand(chatsExportCmd)
}
