package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"award_spider/internal/cleaning"
	"award_spider/internal/config"
	"award_spider/internal/store"

	"github.com/spf13/cobra"
)

var cleanOutDir string

var cleanCmd = &cobra.Command{
	Use:   "clean [store files...]",
	Short: "Export awarded records with numeric amounts",
	Long:  "Reads store files (all .json files in the data directory when none are given) and writes the awarded records with parsed amounts to the output directory under the same names.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		out := cleanOutDir
		if out == "" {
			out = filepath.Join(cfg.Storage.DataDir, "cleaned")
		}
		files := args
		if len(files) == 0 {
			if files, err = storeFiles(cfg); err != nil {
				return err
			}
		}

		for _, path := range files {
			records, err := store.ReadRecords(path)
			if err != nil {
				return err
			}
			cleaned := cleaning.Clean(records)
			dst := filepath.Join(out, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".json")
			if err := store.WriteJSON(dst, cleaned); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d awarded records -> %s\n", filepath.Base(path), len(cleaned), dst)
		}
		return nil
	},
}

// storeFiles lists the record stores in the data directory, leaving out the
// natures catalogue.
func storeFiles(cfg *config.SpiderConfig) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.json", "*.jsonl"} {
		matches, err := filepath.Glob(filepath.Join(cfg.Storage.DataDir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	out := files[:0]
	for _, f := range files {
		if filepath.Base(f) != cfg.Storage.NaturesFile {
			out = append(out, f)
		}
	}
	return out, nil
}

var countCmd = &cobra.Command{
	Use:   "count [dir]",
	Short: "Count items in every JSON file of a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ""
		if len(args) == 1 {
			dir = args[0]
		} else {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			dir = cfg.Storage.DataDir
		}

		counts, err := store.CountItems(dir)
		if err != nil {
			return err
		}
		total := 0
		for _, c := range counts {
			if c.Err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %v\n", c.File, c.Err)
				continue
			}
			total += c.Items
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", c.File, c.Items)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "total: %d\n", total)
		return nil
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates <store file>",
	Short: "Report records sharing reference, object and buyer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := store.ReadRecords(args[0])
		if err != nil {
			return err
		}
		groups := store.FindDuplicates(records)
		extra := 0
		for _, g := range groups {
			extra += len(g.Records) - 1
			fmt.Fprintf(cmd.OutOrStdout(), "%dx %s\n", len(g.Records), g.Key)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d records, %d duplicate groups, %d redundant\n", len(records), len(groups), extra)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [store files...]",
	Short: "Check store files against the record schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		files := args
		if len(files) == 0 {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if files, err = storeFiles(cfg); err != nil {
				return err
			}
		}

		invalid := 0
		for _, path := range files {
			if err := store.Validate(path); err != nil {
				invalid++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", filepath.Base(path), err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", filepath.Base(path))
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d files failed validation", invalid, len(files))
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringVarP(&cleanOutDir, "out", "o", "", "Output directory (default <data_dir>/cleaned)")
	rootCmd.AddCommand(cleanCmd, countCmd, duplicatesCmd, validateCmd)
}
