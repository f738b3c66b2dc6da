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
	"os"

	"github.com/spf13/cobra"

	"github.com/ademuri/vinyl-search/internal/embedding"
)

var similarityCmd = &cobra.Command{
	Use:   "similarity <left> <right>",
	Short: "Prints how similar two album descriptions are",
	Long: `Embeds both texts and prints their cosine similarity, and whether albums
described that way would be treated as the same album. Useful for checking
why two albums were or were not merged.

Example: similarity "MTV Unplugged by Nirvana" "MTV Unplugged in New York by Nirvana"`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		embedder, err := newEmbedder()
		if err == nil {
			err = printSimilarity(cmd.Context(), embedder, args[0], args[1], os.Stdout)
		}
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(similarityCmd)
}

func printSimilarity(ctx context.Context, embedder embedding.Embedder, left, right string, out io.Writer) error {
	vectors, err := embedder.Embed(ctx, []string{left, right})
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != 2 {
		return fmt.Errorf("embedding: got %d vectors for 2 texts", len(vectors))
	}

	verdict := "different albums"
	if embedding.Same(vectors[0], vectors[1]) {
		verdict = "same album"
	}
	_, err = fmt.Fprintf(out, "%.4f (%s, threshold %.2f)\n",
		embedding.CosineSimilarity(vectors[0], vectors[1]), verdict, embedding.Threshold)
	return err
}
