package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var naturesCmd = &cobra.Command{
	Use:   "natures",
	Short: "Discover the nature-of-prestation catalogue and save it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(false)
		if err != nil {
			return err
		}
		defer e.close()

		natures, err := e.app.RefreshNatures()
		if err != nil {
			return err
		}
		for _, n := range natures {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", n.ID, n.Label)
		}
		e.log.Info("natures saved", zap.String("path", e.app.NaturesPath()), zap.Int("count", len(natures)))
		return nil
	},
}

var fullAppend bool

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Scrape every nature and overwrite the awarded and infructuous files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(true)
		if err != nil {
			return err
		}
		defer e.close()

		e.app.Orchestrator().Append = fullAppend
		stats, err := e.app.RunFull(cmd.Context())
		logStats(e.log, stats)
		return err
	},
}

var updateIncludeAll bool

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Scrape every nature and merge new records into the existing stores",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(true)
		if err != nil {
			return err
		}
		defer e.close()

		e.app.Orchestrator().IncludeInfructuous = updateIncludeAll
		stats, err := e.app.RunUpdate(cmd.Context())
		logStats(e.log, stats)
		return err
	},
}

var (
	dailyPages      int
	dailyPerNature  bool
	dailyIncludeAll bool
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Merge records published each day since last Wednesday",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := setup(true)
		if err != nil {
			return err
		}
		defer e.close()

		if cmd.Flags().Changed("pages") {
			e.cfg.Logic.DailyPages = dailyPages
		}
		e.app.Orchestrator().IncludeInfructuous = dailyIncludeAll
		stats, err := e.app.RunDaily(cmd.Context(), time.Now(), dailyPerNature)
		logStats(e.log, stats)
		return err
	},
}

func init() {
	fullCmd.Flags().BoolVar(&fullAppend, "append", false, "Append to the .jsonl files instead of overwriting (needs storage.format jsonl)")
	updateCmd.Flags().BoolVar(&updateIncludeAll, "all", false, "Also store infructuous records")

	dailyCmd.Flags().IntVarP(&dailyPages, "pages", "p", 0, "Fetch this many pages per facet instead of planning (0 plans)")
	dailyCmd.Flags().BoolVar(&dailyPerNature, "per-nature", true, "Query each nature separately")
	dailyCmd.Flags().BoolVar(&dailyIncludeAll, "all", false, "Also store infructuous records")

	rootCmd.AddCommand(naturesCmd, fullCmd, updateCmd, dailyCmd)
}
