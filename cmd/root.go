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
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vinyl-search",
	Short: "Finds your most played albums on vinyl at the library",
	Long: `Resolves Spotify or last.fm listening history into albums and looks each
one up in a public library's LP catalog.

Run refresh-catalog first to index the library's LPs, then albums.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default is $HOME/.vinyl-search.yaml)")

	persistentString("database", "d", "./vinyl-search.db", "Path to the SQLite database")
	persistentString("user", "u", "", "User to act on: a last.fm username, or the Spotify user URI printed by authenticate")
	persistentString("library", "", "sfpl", "Bibliocommons library id")
	persistentString("source", "", "spotify", "Listening history source: spotify or lastfm")
	persistentString("time_range", "", "short_term",
		"How far back to look: short_term (about a month), medium_term (6 months) or long_term (a year)")

	persistentString("embedding_url", "", "", "Base URL of an OpenAI-compatible embeddings API")
	persistentString("embedding_model", "", "bge-base-en-v1.5", "Embedding model name")
	persistentString("embedding_api_key", "", "", "Embeddings API key, if the service needs one")
	rootCmd.PersistentFlags().Int("embedding_dims", 768, "Embedding dimensions, used when creating a Milvus collection")
	viper.BindPFlag("embedding_dims", rootCmd.PersistentFlags().Lookup("embedding_dims"))

	persistentString("index", "", "sqlite", "Catalog index backend: sqlite or milvus")
	persistentString("milvus_address", "", "localhost:19530", "Milvus address")
	persistentString("milvus_collection", "", "library_catalog", "Milvus collection")
	persistentString("milvus_username", "", "", "Milvus username")
	persistentString("milvus_password", "", "", "Milvus password")

	persistentString("spotify_client_id", "", "", "Spotify OAuth client id")
	persistentString("spotify_client_secret", "", "", "Spotify OAuth client secret")
	persistentString("spotify_redirect_url", "", "http://localhost:8888/callback", "Spotify OAuth redirect URL")

	persistentString("api_key", "", "", "last.fm API key")
	persistentString("secret", "", "", "last.fm secret")

	persistentString("sendgrid_api_key", "", "", "SendGrid API key")
	persistentString("from", "", "", "From email address")

	var verbose bool
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func persistentString(name, shorthand, value, usage string) {
	rootCmd.PersistentFlags().StringP(name, shorthand, value, usage)
	viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".vinyl-search" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".vinyl-search")
	}

	// VINYL_SEARCH_EMBEDDING_URL and so on.
	viper.SetEnvPrefix("vinyl_search")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	// See https://github.com/spf13/viper/pull/852
	rootCmd.Flags().VisitAll(func(f *pflag.Flag) {
		if viper.IsSet(f.Name) && viper.GetString(f.Name) != "" {
			rootCmd.Flags().Set(f.Name, viper.GetString(f.Name))
		}
	})
}

func initLogging() {
	slog.SetDefault(newLogger(viper.GetBool("verbose")))
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func requireUser(cmd *cobra.Command, args []string) error {
	if viper.GetString("user") == "" {
		return fmt.Errorf("required flag(s) \"user\" not set")
	}
	return nil
}
