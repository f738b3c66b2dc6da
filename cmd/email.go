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
	"html"
	"os"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ademuri/vinyl-search/internal/music"
)

type SendEmailConfig struct {
	Albums AlbumsConfig
	From   string
	To     string
	DryRun bool
}

var emailCmd = &cobra.Command{
	Use:   "email <address> [from] [to (optional)]",
	Short: "Emails your top albums and their vinyl availability",
	Long: `Resolves albums the same way as the albums command and emails the result.
Date arguments work as for albums with --source=lastfm.`,
	Args: cobra.RangeArgs(1, 3),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(cmd, args); err != nil {
			return err
		}
		if viper.GetString("from") == "" && !viper.GetBool("dryRun") {
			return fmt.Errorf("required flag(s) \"from\" not set")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		albums, err := albumsConfigFromFlags(args[1:])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		albums.Format = formatTable

		config := SendEmailConfig{
			Albums: albums,
			From:   viper.GetString("from"),
			To:     args[0],
			DryRun: viper.GetBool("dryRun"),
		}
		err = sendEmail(cmd.Context(), config)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(emailCmd)

	var dryRun bool
	emailCmd.Flags().BoolVarP(&dryRun, "dry_run", "n", false, "When true, just print instead of emailing")
	viper.BindPFlag("dryRun", emailCmd.Flags().Lookup("dry_run"))
}

func sendEmail(ctx context.Context, config SendEmailConfig) error {
	b, err := openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return emailAlbums(ctx, b, config)
}

func emailAlbums(ctx context.Context, b *backends, config SendEmailConfig) error {
	albums, _, err := resolveAlbums(ctx, config.Albums, b, historyLoader(b, config.Albums))
	if err != nil {
		return err
	}

	name, err := b.db.GetDisplayName(config.Albums.User)
	if err != nil {
		return err
	}
	if name == "" {
		name = config.Albums.User
	}
	subject, body := generateEmailContent(name, describeWindow(config.Albums), config.Albums.Library, albums)

	if config.DryRun {
		fmt.Printf("Would have sent email: \nsubject: %s\n%s\n", subject, body)
		return nil
	}
	return sendMail(config.From, config.To, subject, subject, body)
}

func generateEmailContent(name, window, library string, albums []music.AlbumCluster) (subject string, body string) {
	var out strings.Builder
	out.WriteString(`
<html>
  <head>
<style>
td {
  padding: 0.1em 0.2em;
}
table, th, td {
  border: 1px solid black;
  border-collapse: collapse;
}
</style>
  </head>
  <body>
`)
	fmt.Fprintf(&out, "<h2>Top albums for %s %s:</h2>\n", html.EscapeString(name), window)

	rows := albumRows(library, albums)
	available := 0
	if len(rows) == 0 {
		out.WriteString("<div>No albums found.</div>\n")
	} else {
		out.WriteString(`
			<table>
				<thead>
					<tr><th>Album</th><th>Artists</th><th>Year</th><th>Top tracks</th><th>On vinyl</th></tr>
				</thead>
				<tbody>
`)
		for _, row := range rows {
			titles := make([]string, 0, len(row.TopTracks))
			for _, t := range row.TopTracks {
				titles = append(titles, html.EscapeString(t.Title))
			}
			artists := make([]string, 0, len(row.Artists))
			for _, a := range row.Artists {
				artists = append(artists, html.EscapeString(a.Name))
			}
			vinyl := "-"
			if row.RecordURL != "" {
				available++
				vinyl = fmt.Sprintf(`<a href="%s">Available!</a>`, html.EscapeString(row.RecordURL))
			}

			out.WriteString("<tr>\n")
			fmt.Fprintf(&out, "<td>%s</td>\n", html.EscapeString(row.Title))
			fmt.Fprintf(&out, "<td>%s</td>\n", strings.Join(artists, ", "))
			fmt.Fprintf(&out, "<td>%s</td>\n", html.EscapeString(row.Year))
			fmt.Fprintf(&out, "<td>%s</td>\n", strings.Join(titles, "<br>"))
			fmt.Fprintf(&out, "<td>%s</td>\n", vinyl)
			out.WriteString("</tr>\n")
		}
		out.WriteString(`
				</tbody>
			</table>
`)
	}
	fmt.Fprintf(&out, "<div>%d of %d albums are available on vinyl.</div>\n  </body>\n</html>\n", available, len(rows))

	subject = fmt.Sprintf("Vinyl report for %s: %d of %d albums available", name, available, len(rows))
	return subject, out.String()
}

// sendMail sends one message through SendGrid.
func sendMail(fromAddress, toAddress, subject, text, htmlBody string) error {
	from := mail.NewEmail("vinyl-search", fromAddress)
	to := mail.NewEmail(toAddress, toAddress)
	message := mail.NewSingleEmail(from, subject, to, text, htmlBody)
	client := sendgrid.NewSendClient(viper.GetString("sendgrid_api_key"))
	response, err := client.Send(message)
	if err != nil {
		return fmt.Errorf("sendEmail: %w", err)
	}
	if response.StatusCode/100 != 2 {
		return fmt.Errorf("sendEmail: status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}
