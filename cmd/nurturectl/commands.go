package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xavierca1/lead-nurture/internal/app"
	"github.com/xavierca1/lead-nurture/internal/entity"
	"github.com/xavierca1/lead-nurture/internal/infra/queue"
	"github.com/xavierca1/lead-nurture/internal/usecase"
)

var (
	syncFull   bool
	syncFields []string

	campaignType  string
	campaignScore int
	campaignCase  string
	campaignTeam  string

	pendingLead   string
	pendingFailed bool
)

var syncContactCmd = &cobra.Command{
	Use:   "sync-contact <lead-id>",
	Short: "Push a lead to the CRM",
	Long: `Create or update the CRM contact for a lead.

With --full, tasks and recent conversations are queued as contact notes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(syncFields)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if syncFull {
				res, err := a.Sync.SyncUserData(ctx, args[0])
				if err != nil {
					return err
				}
				if res.ContactID == "" {
					fmt.Fprintln(out, "CRM disabled; nothing synced")
					return nil
				}
				fmt.Fprintf(out, "contact %s: %d notes queued, %d failed\n", res.ContactID, res.Queued, res.Failed)
				return nil
			}
			id, err := a.Sync.SyncContact(ctx, args[0], fields)
			if err != nil {
				return err
			}
			if id == nil {
				fmt.Fprintln(out, "CRM disabled; nothing synced")
				return nil
			}
			fmt.Fprintf(out, "contact %s\n", *id)
			return nil
		})
	},
}

var startCampaignCmd = &cobra.Command{
	Use:   "start-campaign <lead-id>",
	Short: "Schedule a nurture campaign for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			lead, err := a.Leads.FindByID(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load lead %s: %w", args[0], err)
			}
			res, err := a.Sequencer.Start(ctx, usecase.StartCampaignInput{
				LeadID:       lead.ID,
				Email:        lead.Email,
				Name:         lead.Name,
				CampaignType: entity.CampaignType(campaignType),
				Context: usecase.CaseContext{
					CaseType:        campaignCase,
					LeadScore:       campaignScore,
					AssignedTeam:    campaignTeam,
					RemoteContactID: lead.RemoteContactID(),
				},
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Replaced != nil {
				fmt.Fprintf(out, "replaced campaign %s\n", res.Replaced.ID)
			}
			fmt.Fprintf(out, "campaign %s (%s): %d emails scheduled\n", res.Campaign.ID, res.Campaign.Type, len(res.Jobs))
			return nil
		})
	},
}

var stopCampaignCmd = &cobra.Command{
	Use:   "stop-campaign <lead-id>",
	Short: "Stop a lead's campaign and cancel its pending emails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Sequencer.Stop(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending emails cancelled\n", res.CancelledJobs)
			return nil
		})
	},
}

var pendingJobsCmd = &cobra.Command{
	Use:   "pending-jobs",
	Short: "List waiting or dead-lettered jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var (
				jobs []queue.Job
				err  error
			)
			if pendingFailed {
				jobs, err = a.Queue.DeadLetters(ctx)
			} else {
				jobs, err = a.Queue.Pending(ctx)
			}
			if err != nil {
				return err
			}
			return writeJobs(cmd.OutOrStdout(), filterJobs(jobs, pendingLead))
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Complete campaigns that outlived their sequence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale campaigns completed\n", a.Sweeper.Sweep(ctx))
			return nil
		})
	},
}

func init() {
	syncContactCmd.Flags().BoolVar(&syncFull, "full", false, "Also queue tasks and conversations as notes")
	syncContactCmd.Flags().StringArrayVarP(&syncFields, "field", "f", nil, "Extra contact field as key=value (repeatable)")

	startCampaignCmd.Flags().StringVarP(&campaignType, "type", "t", string(entity.CampaignStandard), "Campaign type: hot-lead, standard, cold-lead, re-engagement")
	startCampaignCmd.Flags().IntVar(&campaignScore, "score", 0, "Lead score 0-100")
	startCampaignCmd.Flags().StringVar(&campaignCase, "case-type", "", "Case type shown in emails")
	startCampaignCmd.Flags().StringVar(&campaignTeam, "team", "", "Assigned team shown in emails")

	pendingJobsCmd.Flags().StringVar(&pendingLead, "lead", "", "Only jobs for this lead")
	pendingJobsCmd.Flags().BoolVar(&pendingFailed, "failed", false, "List dead-lettered jobs instead")
}

// parseFields turns key=value pairs into a contact field map. Comma separated
// values of "tags" become a list.
func parseFields(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	fields := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q, want key=value", p)
		}
		if k == "tags" {
			var tags []any
			for _, t := range strings.Split(v, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			fields[k] = tags
			continue
		}
		fields[k] = strings.TrimSpace(v)
	}
	return fields, nil
}

func filterJobs(jobs []queue.Job, leadID string) []queue.Job {
	out := make([]queue.Job, 0, len(jobs))
	for _, j := range jobs {
		if leadID == "" || j.LeadID == leadID {
			out = append(out, j)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].RunAt.Before(out[k].RunAt) })
	return out
}

func writeJobs(w io.Writer, jobs []queue.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tLEAD\tRUN AT\tATTEMPT\tLAST ERROR")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			j.ID, j.Kind, j.LeadID, j.RunAt.UTC().Format(time.RFC3339), j.Attempt, j.MaxAttempts, truncate(j.LastError, 60))
	}
	return tw.Flush()
}

// truncate shortens s to n runes so multibyte error text stays valid UTF-8.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
