package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/store"
)

var (
	jobsStatus   string
	jobsLimit    int
	jobsApprover string
	jobsPrograms []string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and approve ingestion jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.Store.ListJobs(ctx, store.JobFilter{
			Status: model.JobStatus(jobsStatus),
			Limit:  jobsLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its pending records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "load job %s", args[0])
		}

		records, err := env.Store.ListPendingRecords(ctx, j.ID)
		if err != nil {
			return eris.Wrap(err, "list pending records")
		}

		out := struct {
			Job     *model.Job            `json:"job"`
			Pending []model.PendingRecord `json:"pending_records"`
		}{Job: j, Pending: records}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

var jobsApproveCmd = &cobra.Command{
	Use:   "approve <job-id>",
	Short: "Approve a reviewed job and publish its programs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Manager.ApproveAndPublish(ctx, args[0], jobsApprover, jobsPrograms)
		if err != nil {
			return eris.Wrapf(err, "approve job %s", args[0])
		}

		zap.L().Info("job published",
			zap.String("job_id", j.ID),
			zap.String("approved_by", jobsApprover),
		)
		return nil
	},
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by job status")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "max jobs to list")
	jobsApproveCmd.Flags().StringVar(&jobsApprover, "by", "", "who is approving (required)")
	jobsApproveCmd.Flags().StringSliceVar(&jobsPrograms, "program", nil, "publish only these program IDs (repeatable)")
	_ = jobsApproveCmd.MarkFlagRequired("by")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsApproveCmd)
	rootCmd.AddCommand(jobsCmd)
}
