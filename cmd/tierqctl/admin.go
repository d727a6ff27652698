package main

import (
	"github.com/spf13/cobra"

	"github.com/scribely/tierq/client"
	"github.com/scribely/tierq/job"
)

// StatsCmd shows queue-wide statistics.
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth, running count, and per-tier breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job")
			res, err := newClient().Stats(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().String("job", "", "attach this waiting job's placement to the stats")
	return cmd
}

// AdmitCmd triggers one admission round.
func AdmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "admit",
		Short: "Admit the best-ranked waiting jobs up to free capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			admitted, err := newClient().Admit(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(admitted)
		},
	}
}

// ListCmd lists jobs with optional filters.
func ListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest-submitted last",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, _ := cmd.Flags().GetString("owner")
			status, _ := cmd.Flags().GetString("status")
			phase, _ := cmd.Flags().GetString("phase")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			jobs, err := newClient().Jobs(cmd.Context(), client.ListOptions{
				Owner:  owner,
				Status: job.Status(status),
				Phase:  job.Phase(phase),
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}
	cmd.Flags().String("owner", "", "filter by owner subject")
	cmd.Flags().String("status", "", "filter by exact status")
	cmd.Flags().String("phase", "", "filter by phase (waiting, running, terminal)")
	cmd.Flags().Int("limit", 50, "maximum jobs to return")
	cmd.Flags().Int("offset", 0, "jobs to skip before the first result")
	return cmd
}
