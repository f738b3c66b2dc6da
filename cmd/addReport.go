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
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/music"
	"github.com/ademuri/vinyl-search/internal/store"
)

// addReportCmd represents the addReport command
var addReportCmd = &cobra.Command{
	Use:   "add-report --name=<name> --dest=<email> --run_day=<day>",
	Short: "Adds a vinyl availability email, to be sent monthly with `send-reports`",
	Long: `The report covers --user's top albums from --source over --time_range, as
they are when the report is sent.`,
	Args:    cobra.NoArgs,
	PreRunE: requireUser,
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		dest, _ := cmd.Flags().GetString("dest")
		runDay, _ := cmd.Flags().GetInt("run_day")
		report := store.Report{
			User:      viper.GetString("user"),
			Name:      name,
			Email:     dest,
			Source:    strings.ToLower(viper.GetString("source")),
			TimeRange: music.TimeRange(viper.GetString("time_range")),
			RunDay:    runDay,
		}
		err := addReport(viper.GetString("database"), report)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(addReportCmd)

	addReportCmd.Flags().String("dest", "", "Destination email address")
	addReportCmd.MarkFlagRequired("dest")

	addReportCmd.Flags().String("name", "", "Report name, used to tell reports apart")
	addReportCmd.MarkFlagRequired("name")

	addReportCmd.Flags().Int("run_day", 1, "Which day of the month to send this report on")
}

func addReport(dbPath string, report store.Report) error {
	if report.RunDay < 1 || report.RunDay > 31 {
		return fmt.Errorf("run_day out of range: %d", report.RunDay)
	}
	if len(report.Email) == 0 {
		return fmt.Errorf("Must specify destination email")
	}
	if report.Source != sourceSpotify && report.Source != sourceLastfm {
		return fmt.Errorf("unknown source %q: want %s or %s", report.Source, sourceSpotify, sourceLastfm)
	}
	tr, err := music.ParseTimeRange(string(report.TimeRange))
	if err != nil {
		return err
	}
	report.TimeRange = tr
	if report.Source == sourceLastfm {
		report.User = strings.ToLower(report.User)
	}

	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.AddReport(report); err != nil {
		return err
	}
	fmt.Printf("Added report %q (%s) for user %q\n", report.Name, report.Email, report.User)
	return nil
}
