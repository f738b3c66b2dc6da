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
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/store"
)

// listReportsCmd represents the listReports command
var listReportsCmd = &cobra.Command{
	Use:   "list-reports",
	Short: "Lists the reports configured for the user, or for everyone",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		err := listReports(viper.GetString("database"), viper.GetString("user"), os.Stdout)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(listReportsCmd)
}

func listReports(dbPath string, user string, out io.Writer) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	reports, err := db.Reports(user)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.Header("User", "Name", "Email", "Source", "Time range", "Run day", "Last sent")
	for _, r := range reports {
		sent := "never"
		if !r.Sent.IsZero() {
			sent = r.Sent.Format("2006-01-02")
		}
		err := table.Append([]string{
			r.User, r.Name, r.Email, r.Source, string(r.TimeRange), fmt.Sprint(r.RunDay), sent,
		})
		if err != nil {
			return err
		}
	}
	return table.Render()
}
