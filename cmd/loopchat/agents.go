package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashton/loopchat/internal/models"
	"github.com/ashton/loopchat/internal/render"
)

var (
	agentName        string
	agentDescription string
	agentPlatform    string
	agentWebhook     string
	agentInactive    bool
	agentActive      bool
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"agent"},
	Short:   "Manage agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAgents(cmd, false)
	},
}

var agentsActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "List agents that can start chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAgents(cmd, true)
	},
}

func listAgents(cmd *cobra.Command, activeOnly bool) error {
	s, _, cancel, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer s.Close()

	list := s.ws.Agents.List()
	if activeOnly {
		list = s.ws.Agents.ActiveAgents()
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no agents"))
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, a := range list {
		hook := a.WebhookURL
		if hook == "" {
			hook = "-"
		}
		rows = append(rows, []string{a.ID, a.Name, string(a.Platform), yesNo(a.Active), render.Truncate(hook, 40), render.Ago(a.CreatedAt)})
	}
	printTable(cmd, []string{"ID", "NAME", "PLATFORM", "ACTIVE", "WEBHOOK", "CREATED"}, rows)
	return nil
}

var agentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an agent",
	Long: `Create an agent. Setting --webhook requires an active paid
subscription.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		a, err := s.ws.CreateAgent(ctx, models.AgentInput{
			Name:        agentName,
			Description: agentDescription,
			Platform:    models.Platform(agentPlatform),
			WebhookURL:  agentWebhook,
			Active:      !agentInactive,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created agent %s (%s)\n", headerStyle.Render(a.Name), a.ID)
		return nil
	},
}

var agentsUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.AgentPatch
		flags := cmd.Flags()
		if flags.Changed("name") {
			patch.Name = &agentName
		}
		if flags.Changed("description") {
			patch.Description = &agentDescription
		}
		if flags.Changed("platform") {
			p := models.Platform(agentPlatform)
			patch.Platform = &p
		}
		if flags.Changed("webhook") {
			patch.WebhookURL = &agentWebhook
		}
		if flags.Changed("active") {
			patch.Active = &agentActive
		}

		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		a, err := s.ws.UpdateAgent(ctx, args[0], patch)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated agent %s\n", headerStyle.Render(a.Name))
		return nil
	},
}

var agentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an agent; its chats are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		if err := s.ws.Agents.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted agent %s\n", args[0])
		return nil
	},
}

func init() {
	agentsCreateCmd.Flags().StringVar(&agentName, "name", "", "Agent name")
	agentsCreateCmd.Flags().StringVar(&agentDescription, "description", "", "Agent description")
	agentsCreateCmd.Flags().StringVar(&agentPlatform, "platform", string(models.PlatformN8N), "Platform (n8n, make)")
	agentsCreateCmd.Flags().StringVar(&agentWebhook, "webhook", "", "Webhook URL")
	agentsCreateCmd.Flags().BoolVar(&agentInactive, "inactive", false, "Create the agent inactive")
	_ = agentsCreateCmd.MarkFlagRequired("name")

	agentsUpdateCmd.Flags().StringVar(&agentName, "name", "", "Agent name")
	agentsUpdateCmd.Flags().StringVar(&agentDescription, "description", "", "Agent description")
	agentsUpdateCmd.Flags().StringVar(&agentPlatform, "platform", "", "Platform (n8n, make)")
	agentsUpdateCmd.Flags().StringVar(&agentWebhook, "webhook", "", "Webhook URL (empty clears it)")
	agentsUpdateCmd.Flags().BoolVar(&agentActive, "active", true, "Whether the agent is active")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsActiveCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
	agentsCmd.AddCommand(agentsUpdateCmd)
	agentsCmd.AddCommand(agentsDeleteCmd)
}
