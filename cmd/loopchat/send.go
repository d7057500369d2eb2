package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/render"
)

var (
	sendChat    string
	sendReply   bool
	sendAttachs []string
)

var sendCmd = &cobra.Command{
	Use:   "send <message...>",
	Short: "Send a message to a chat",
	Long: `Send a message to the active chat (or --chat). With --reply the chat's
agent is asked to answer and its reply is printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		var ids []string
		if sendChat != "" {
			ids = []string{sendChat}
		}
		chatID, err := activeOrArg(s.ws, ids)
		if err != nil {
			return err
		}
		// Load history first so the new message lands after it.
		if err := s.ws.Chats.Select(ctx, chatID); err != nil {
			return err
		}

		content := strings.Join(args, " ")
		out := cmd.OutOrStdout()
		chat, _ := s.ws.Chats.Get(chatID)
		agent := s.ws.AgentFor(chat)

		if !sendReply {
			msg, err := s.ws.Chats.Send(ctx, chatID, content, attachments())
			if err != nil {
				return err
			}
			printMessage(out, *msg, agent, nil)
			return nil
		}

		turn, err := s.ws.Converse(ctx, chatID, content)
		if turn.Sent != nil {
			printMessage(out, *turn.Sent, agent, nil)
		}
		if err != nil {
			return err
		}
		term, err := render.NewTerminal("auto", 80)
		if err != nil {
			return err
		}
		printMessage(out, *turn.Reply, agent, term)
		return nil
	},
}

func attachments() []models.Attachment {
	var atts []models.Attachment
	for _, a := range sendAttachs {
		name, url, _ := strings.Cut(a, "=")
		atts = append(atts, models.Attachment{Name: name, URL: url})
	}
	return atts
}

func init() {
	sendCmd.Flags().StringVar(&sendChat, "chat", "", "Chat id (default: active chat)")
	sendCmd.Flags().BoolVarP(&sendReply, "reply", "r", false, "Ask the agent to reply")
	sendCmd.Flags().StringArrayVar(&sendAttachs, "attach", nil, "Attachment as name or name=url (repeatable)")
}
