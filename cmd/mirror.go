package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/db"
	"award_spider/internal/logger"
	"award_spider/internal/store"

	"github.com/spf13/cobra"
)

var errNoMirror = errors.New("no mirror database enabled (db.mongo, db.postgres or db.redis)")

// openReader connects the configured mirrors for querying.
func openReader() (*config.SpiderConfig, db.Sink, db.Reader, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if !cfg.DB.Mongo.Enabled && !cfg.DB.Postgres.Enabled && !cfg.DB.Redis.Enabled {
		return nil, nil, nil, errNoMirror
	}
	log, err := logger.New(debug || cfg.Debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	sink, err := db.Open(cfg.DB, log.Named("db"))
	if err != nil {
		return nil, nil, nil, err
	}
	reader, ok := sink.(db.Reader)
	if !ok {
		_ = sink.Close()
		return nil, nil, nil, db.ErrNoReader
	}
	return cfg, sink, reader, nil
}

var statsCmd = &cobra.Command{
	Use:   "stats [facet...]",
	Short: "Report mirrored record counts per facet",
	Long:  "Queries the first enabled mirror database for each facet. Without arguments every nature in the catalogue file is reported.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, sink, reader, err := openReader()
		if err != nil {
			return err
		}
		defer sink.Close()

		facets := args
		if len(facets) == 0 {
			natures, err := store.LoadNatures(filepath.Join(cfg.Storage.DataDir, cfg.Storage.NaturesFile))
			if err != nil {
				return fmt.Errorf("no facets given and no catalogue: %w", err)
			}
			for _, n := range natures {
				facets = append(facets, n.Label)
			}
		}

		out := cmd.OutOrStdout()
		for _, facet := range facets {
			st, err := reader.FacetStats(cmd.Context(), facet)
			if err != nil {
				return err
			}
			last := "-"
			if st.LastScraped > 0 {
				last = time.Unix(st.LastScraped, 0).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%s\trecords=%d\tawarded=%d\tlast_scraped=%s\n", st.Facet, st.Records, st.Awarded, last)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <reference>",
	Short: "Print the mirrored copy of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, sink, reader, err := openReader()
		if err != nil {
			return err
		}
		defer sink.Close()

		doc, err := reader.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("record %s not found", args[0])
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(doc)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd, showCmd)
}
