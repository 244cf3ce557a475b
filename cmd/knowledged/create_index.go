package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/estuarylab/knowledged/config"
	"github.com/estuarylab/knowledged/internal/vector"
)

func createIndexCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "create-index",
		Short: "Create the vector index if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if err := vector.EnsureIndex(context.Background(), cfg.Vector, cfg.LLM.Dimensions, nil); err != nil {
				return err
			}
			log.Printf("index %s ok", cfg.Vector.IndexName)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
