package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ashton/loopchat/internal/models"
)

var (
	subPlan     string
	subStatus   string
	subAmount   int64
	subInterval string
)

var subscriptionCmd = &cobra.Command{
	Use:     "subscription",
	Aliases: []string{"sub"},
	Short:   "Show or change the subscription",
}

var subscriptionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		out := cmd.OutOrStdout()
		sub := s.ws.Subscription.Current()
		if sub == nil {
			fmt.Fprintln(out, mutedStyle.Render("no subscription"))
		} else {
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Plan:"), sub.Plan)
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Status:"), sub.Status)
			if sub.Amount > 0 {
				fmt.Fprintf(out, "%s $%s / %s\n", headerStyle.Render("Price:"), humanize.CommafWithDigits(float64(sub.Amount)/100, 2), sub.Interval)
			}
			if !sub.StartDate.IsZero() {
				fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Since:"), humanize.Time(sub.StartDate))
			}
		}
		fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Webhook editing:"), yesNo(s.ws.Subscription.WebhookEditable()))
		return nil
	},
}

var subscriptionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the subscription plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ctx, cancel, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		sub, err := s.ws.Subscription.Update(ctx, models.SubscriptionUpdate{
			Plan:     models.Plan(subPlan),
			Status:   models.SubscriptionStatus(subStatus),
			Amount:   subAmount,
			Interval: subInterval,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Subscription is now %s (%s)\n", headerStyle.Render(string(sub.Plan)), sub.Status)
		return nil
	},
}

var subscriptionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the locally cached subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, cancel, err := openState(cmd, false)
		if err != nil {
			return err
		}
		defer cancel()
		defer s.Close()

		s.ws.Subscription.Clear()
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared cached subscription")
		return nil
	},
}

func init() {
	subscriptionSetCmd.Flags().StringVar(&subPlan, "plan", "", "Plan (none, core, yearly)")
	subscriptionSetCmd.Flags().StringVar(&subStatus, "status", string(models.StatusActive), "Status (active, inactive)")
	subscriptionSetCmd.Flags().Int64Var(&subAmount, "amount", 0, "Price in cents")
	subscriptionSetCmd.Flags().StringVar(&subInterval, "interval", "month", "Billing interval")
	_ = subscriptionSetCmd.MarkFlagRequired("plan")

	subscriptionCmd.AddCommand(subscriptionShowCmd)
	subscriptionCmd.AddCommand(subscriptionSetCmd)
	subscriptionCmd.AddCommand(subscriptionClearCmd)
}
