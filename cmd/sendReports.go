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
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/store"
)

type SendReportsConfig struct {
	From    string
	Library string
	DryRun  bool
}

var sendReportsCmd = &cobra.Command{
	Use:   "send-reports",
	Short: "Sends the reports that are due.",
	Long:  `Meant to be run daily, e.g. from cron. Each report is sent once a month, on or after its run day.`,
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("from") == "" && !viper.GetBool("reports_dry_run") {
			return fmt.Errorf("required flag(s) \"from\" not set")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		config := SendReportsConfig{
			From:    viper.GetString("from"),
			Library: viper.GetString("library"),
			DryRun:  viper.GetBool("reports_dry_run"),
		}
		err := sendReports(cmd.Context(), config)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendReportsCmd)

	var dryRun bool
	sendReportsCmd.Flags().BoolVarP(&dryRun, "dry_run", "n", false, "When true, just print instead of emailing")
	viper.BindPFlag("reports_dry_run", sendReportsCmd.Flags().Lookup("dry_run"))
}

func sendReports(ctx context.Context, config SendReportsConfig) error {
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return sendDueReports(ctx, b, config, time.Now())
}

func sendDueReports(ctx context.Context, b *backends, config SendReportsConfig, now time.Time) error {
	reports, err := b.db.Reports("")
	if err != nil {
		return err
	}

	errOccurred := false
	for _, r := range reports {
		if due, reason := reportDue(now, r); !due {
			fmt.Printf("Report (%q, %q) %s, not sending.\n", r.User, r.Name, reason)
			continue
		}

		fmt.Printf("Sending report (%q, %q)\n", r.User, r.Name)
		emailConfig := SendEmailConfig{
			Albums: AlbumsConfig{
				User:      r.User,
				Source:    r.Source,
				TimeRange: r.TimeRange,
				Format:    formatTable,
				Library:   config.Library,
			},
			From:   config.From,
			To:     r.Email,
			DryRun: config.DryRun,
		}
		if err := emailAlbums(ctx, b, emailConfig); err != nil {
			errOccurred = true
			fmt.Printf("sendEmail: %v\n", err)
			continue
		}
		if config.DryRun {
			continue
		}
		if err := b.db.MarkReportSent(r, now); err != nil {
			return err
		}
	}

	if errOccurred {
		return fmt.Errorf("Error occurred while sending reports")
	}
	return nil
}

// reportDue reports whether r should be sent at now, and if not, why.
func reportDue(now time.Time, r store.Report) (bool, string) {
	toSendThisMonth := time.Date(now.Year(), now.Month(), r.RunDay, 0, 0, 0, 0, now.Location())
	toSendLastMonth := time.Date(now.Year(), now.Month()-1, r.RunDay, 0, 0, 0, 0, now.Location())
	if r.Sent.After(toSendThisMonth) {
		return false, "was already sent this month on " + r.Sent.Format("2006-01-02")
	}
	if now.Before(toSendThisMonth) && r.Sent.After(toSendLastMonth) {
		return false, "was already sent for last month on " + r.Sent.Format("2006-01-02")
	}
	return true, ""
}
