/*
Copyright 2020 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/ingest"
	"github.com/ademuri/vinyl-search/internal/ledger"
)

type RefreshCatalogConfig struct {
	// Instance names the run. Re-running an instance skips its completed
	// steps.
	Instance string
	// Resume picks up the latest unfinished run when Instance is empty.
	Resume bool
	Query  string
	Format string
}

var refreshCatalogCmd = &cobra.Command{
	Use:   "refresh-catalog",
	Short: "Indexes the library's LP catalog for album matching",
	Long: `Fetches every page of the library's LP search results, embeds each record
and stores the vectors in the catalog index.

Progress is recorded step by step in the database. If a run fails, re-run it
with --instance (or --resume) to continue where it stopped.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		config := RefreshCatalogConfig{
			Instance: viper.GetString("instance"),
			Resume:   viper.GetBool("resume"),
			Query:    viper.GetString("query"),
			Format:   viper.GetString("catalog_format"),
		}
		err := checkFormat(config.Format)
		if err == nil {
			err = refreshCatalog(cmd.Context(), config, os.Stdout)
		}
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(refreshCatalogCmd)

	var instance string
	refreshCatalogCmd.Flags().StringVar(&instance, "instance", "", "Run id to start or continue (default: a new id)")
	viper.BindPFlag("instance", refreshCatalogCmd.Flags().Lookup("instance"))

	var resume bool
	refreshCatalogCmd.Flags().BoolVar(&resume, "resume", false, "Continue the latest unfinished run")
	viper.BindPFlag("resume", refreshCatalogCmd.Flags().Lookup("resume"))

	var query string
	refreshCatalogCmd.Flags().StringVar(&query, "query", "LP", "Catalog search query")
	viper.BindPFlag("query", refreshCatalogCmd.Flags().Lookup("query"))

	addFormatFlag(refreshCatalogCmd, "catalog_format")
}

func refreshCatalog(ctx context.Context, config RefreshCatalogConfig, out io.Writer) error {
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	pipeline := &ingest.Pipeline{
		Source:   newCatalogSource(config.Query),
		Embedder: b.embedder,
		Index:    b.index,
		Logger:   slog.Default(),
	}
	return runPipeline(ctx, b, pipeline, config, out)
}

func runPipeline(ctx context.Context, b *backends, pipeline *ingest.Pipeline, config RefreshCatalogConfig, out io.Writer) error {
	instance, err := pickInstance(ctx, b, config)
	if err != nil {
		return err
	}
	if err := b.db.StartWorkflow(ctx, instance); err != nil {
		return err
	}

	l := ledger.New(b.db, instance, ledger.WithLogger(slog.Default()))
	summary, err := pipeline.Run(ctx, l)
	if err != nil {
		return fmt.Errorf("refreshing catalog: %w\nRe-run with --instance=%s to continue", err, instance)
	}
	if err := b.db.FinishWorkflow(ctx, instance); err != nil {
		return err
	}

	if config.Format != formatTable {
		return writeStructured(out, config.Format, summary)
	}
	_, err = fmt.Fprintf(out, "Indexed %d records from %d pages in %d batches (run %s)\n",
		summary.Vectors, summary.Pages, summary.Batches, summary.Instance)
	return err
}

func pickInstance(ctx context.Context, b *backends, config RefreshCatalogConfig) (string, error) {
	if config.Instance != "" {
		return config.Instance, nil
	}
	if config.Resume {
		instance, ok, err := b.db.LatestUnfinishedWorkflow(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			steps, err := b.db.StepCount(ctx, instance)
			if err != nil {
				return "", err
			}
			slog.Info("resuming run", "instance", instance, "completed_steps", steps)
			return instance, nil
		}
		slog.Info("no unfinished run, starting a new one")
	}
	return uuid.NewString(), nil
}
