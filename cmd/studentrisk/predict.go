package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"studentrisk/agent"
	"studentrisk/ml"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Classify one student with the trained model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()

		fields := make(map[string]string, ml.FeatureCount)
		for _, name := range ml.FeatureNames() {
			fields[name], _ = cmd.Flags().GetString(flagName(name))
		}
		fv, err := ml.ParseFeatureVector(fields)
		if err != nil {
			return err
		}

		artifact, err := ml.LoadArtifact(cfg.Model.Dir)
		if err != nil {
			return err
		}
		a, err := agent.New(artifact, agent.WithLogger(logger))
		if err != nil {
			return err
		}
		outcome, err := a.Run(cmd.Context(), fv)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(outcome.Prediction())
	},
}

func flagName(feature string) string {
	return strings.ReplaceAll(feature, "_", "-")
}

func init() {
	for _, name := range ml.FeatureNames() {
		predictCmd.Flags().String(flagName(name), "", "Feature value: "+name)
	}
}
