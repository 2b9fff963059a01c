package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/job"
	"github.com/sells-group/catalog-sync/internal/model"
)

var (
	runUniversity string
	runCountry    string
	runURLs       []string
	runPublish    bool
	runCreatedBy  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single ingestion job synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.Manager.CreateJob(ctx, runUniversity, model.Country(runCountry), runURLs, runCreatedBy)
		if err != nil {
			return eris.Wrap(err, "create job")
		}

		if err := env.Manager.Execute(ctx, j, job.ExecOptions{
			AutoPublish: runPublish,
			CreatedBy:   runCreatedBy,
		}); err != nil {
			zap.L().Error("job failed",
				zap.String("job_id", j.ID),
				zap.Error(err),
			)
		}

		zap.L().Info("run complete",
			zap.String("job_id", j.ID),
			zap.String("status", string(j.Status)),
			zap.Int("programs_found", j.ProgramsFound),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(j)
	},
}

func init() {
	runCmd.Flags().StringVar(&runUniversity, "university", "", "university name (required)")
	runCmd.Flags().StringVar(&runCountry, "country", "Other", "country of the university")
	runCmd.Flags().StringSliceVar(&runURLs, "url", nil, "program page URL (repeatable)")
	runCmd.Flags().BoolVar(&runPublish, "publish", false, "publish immediately instead of staging for review")
	runCmd.Flags().StringVar(&runCreatedBy, "by", "system", "who initiated the run")
	_ = runCmd.MarkFlagRequired("university")
	rootCmd.AddCommand(runCmd)
}
