package main

import (
	"github.com/spf13/cobra"

	"github.com/scribely/tierq/client"
)

// SubmitCmd queues a new transcription job.
func SubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Queue a transcription job for the given audio source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, _ := cmd.Flags().GetString("tier")
			title, _ := cmd.Flags().GetString("title")
			lang, _ := cmd.Flags().GetString("language")

			var opts []client.SubmitOption
			if title != "" {
				opts = append(opts, client.WithTitle(title))
			}
			if lang != "" {
				opts = append(opts, client.WithLanguage(lang))
			}

			j, err := newClient().Submit(cmd.Context(), tier, args[0], opts...)
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
	cmd.Flags().String("tier", "free", "subscription tier (pro, premium, basic, free)")
	cmd.Flags().String("title", "", "human-readable job title")
	cmd.Flags().String("language", "", "expected audio language")
	return cmd
}

// StatusCmd fetches one job.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := newClient().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}

// CancelCmd cancels a job.
func CancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a waiting or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := newClient().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(j)
		},
	}
}

// PositionCmd reports a waiting job's place in line.
func PositionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "position <job-id>",
		Short: "Show a waiting job's queue position and estimated wait",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newClient().Position(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
}
