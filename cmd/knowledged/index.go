package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/estuarylab/knowledged/config"
	"github.com/estuarylab/knowledged/internal/ask"
	"github.com/estuarylab/knowledged/internal/indexer"
	"github.com/estuarylab/knowledged/internal/llm"
	"github.com/estuarylab/knowledged/internal/server"
	"github.com/estuarylab/knowledged/internal/store"
	"github.com/estuarylab/knowledged/internal/telemetry"
	"github.com/estuarylab/knowledged/internal/vector"
)

func indexCMD() *cobra.Command {
	var cfgPath string
	var cron string
	var index = &cobra.Command{
		Use:   "index",
		Short: "Run one incremental indexing pass, or keep running on a cron",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if cron != "" {
				cfg.Indexer.Cron = cron
			}
			ctx := context.Background()

			dsn, err := cfg.Warehouse.DSN()
			if err != nil {
				return err
			}
			st, err := store.New(ctx, dsn)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := cfg.LLM.Validate(); err != nil {
				return err
			}
			provider := llm.NewOpenAIProvider(cfg.LLM)

			idx, err := vector.NewPineconeIndex(ctx, cfg.Vector, cfg.LLM.Dimensions, nil)
			if err != nil {
				return err
			}

			driver := indexer.New(st, provider, idx, cfg.Indexer, cfg.LLM.EmbeddingModel, nil, telemetry.NewNopMetrics())

			if cfg.Indexer.Cron != "" {
				sched := &server.Scheduler{
					Driver: driver,
					Cron:   cfg.Indexer.Cron,
					Stop:   make(chan struct{}),
				}
				if cfg.Cache.Addr != "" {
					sched.Lock = server.NewRedisRunLock(ask.NewRedisCache(cfg.Cache).Client())
				}
				log.Printf("scheduling indexer runs (%s)", cfg.Indexer.Cron)
				sched.Start()
				select {}
			}

			stats, err := driver.Run(ctx)
			if err != nil {
				return err
			}
			log.Printf("indexed %d chunks in %d batches, watermark %s", stats.Chunks, stats.Batches, stats.Watermark)
			return nil
		},
	}
	index.Flags().StringVar(&cron, "cron", "", "cron expression for repeated runs (overrides indexer.cron)")
	index.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return index
}
