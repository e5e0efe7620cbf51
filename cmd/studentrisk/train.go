package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studentrisk/db"
	"studentrisk/pipeline"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the classifier and write the evaluation report",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		if v, _ := cmd.Flags().GetString("data"); v != "" {
			cfg.Training.DataPath = v
		}
		if v, _ := cmd.Flags().GetString("out"); v != "" {
			cfg.Model.Dir = v
		}
		if v, _ := cmd.Flags().GetString("report"); v != "" {
			cfg.Report.Dir = v
		}

		store, err := db.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
		if err != nil {
			logger.Warn("training log disabled", zap.Error(err))
		}
		var recorder pipeline.RunRecorder
		if store != nil {
			defer store.Close()
			recorder = store
		}

		trainer := pipeline.NewTrainer(pipeline.TrainerConfig{
			DataPath: cfg.Training.DataPath,
			Dataset: pipeline.DatasetConfig{
				Delimiter: []rune(cfg.Training.Delimiter)[0],
				Charset:   cfg.Training.Charset,
			},
			ModelDir:   cfg.Model.Dir,
			ReportDir:  cfg.Report.Dir,
			TestRatio:  cfg.Training.TestRatio,
			Seed:       cfg.Training.Seed,
			Estimators: cfg.Training.Estimators,
		}, logger, recorder)

		result, err := trainer.Run(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, pipeline.FormatReport(result.Evaluation))
		fmt.Fprintf(out, "model saved to %s (fingerprint %s)\n", cfg.Model.Dir, result.Manifest.Fingerprint)
		fmt.Fprintf(out, "report written to %s\n", cfg.Report.Dir)
		return nil
	},
}

func init() {
	trainCmd.Flags().String("data", "", "Training CSV (overrides training.data_path)")
	trainCmd.Flags().String("out", "", "Model output directory (overrides model.dir)")
	trainCmd.Flags().String("report", "", "Report output directory (overrides report.dir)")
}
