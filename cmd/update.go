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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ademuri/lastfm-go/lastfm"
	"github.com/ademuri/vinyl-search/internal/store"
)

type UpdateConfig struct {
	DbPath string
	User   string
	After  string
	Force  bool
}

// recentTracksPage fetches one page of a user's scrobbles, newest first.
type recentTracksPage func(user string, page int) (lastfm.UserGetRecentTracks, error)

// updateCmd represents the update command
var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetches scrobbles from last.fm",
	Long:  `Stores a last.fm user's listening history in the local database, for albums --source=lastfm.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if err := requireUser(cmd, args); err != nil {
			return err
		}
		if viper.GetString("api_key") == "" {
			return fmt.Errorf("required flag(s) \"api_key\" not set")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		config := UpdateConfig{
			DbPath: viper.GetString("database"),
			User:   viper.GetString("user"),
			After:  viper.GetString("after"),
			Force:  viper.GetBool("force"),
		}

		lastfmClient := lastfm.New(viper.GetString("api_key"), viper.GetString("secret"))
		lastfmClient.SetUserAgent("vinyl-search/1.0")
		fetch := func(user string, page int) (lastfm.UserGetRecentTracks, error) {
			return lastfmClient.User.GetRecentTracks(lastfm.P{
				"limit": 200,
				"page":  page,
				"user":  user,
			})
		}

		err := updateDatabase(cmd.Context(), config, fetch, rate.NewLimiter(rate.Every(1*time.Second), 1))
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	var afterString string
	updateCmd.Flags().StringVar(&afterString, "after", "", "Only get listening data after this date, in yyyy, yyyy-mm or yyyy-mm-dd format")
	viper.BindPFlag("after", updateCmd.Flags().Lookup("after"))

	var force bool
	updateCmd.Flags().BoolVarP(&force, "force", "f", false, "Get all listening data, regardless of what's already present (idempotent)")
	viper.BindPFlag("force", updateCmd.Flags().Lookup("force"))
}

func updateDatabase(ctx context.Context, config UpdateConfig, fetch recentTracksPage, limiter *rate.Limiter) error {
	var after time.Time
	var err error
	if len(config.After) > 0 {
		after, _, err = parseSingleDatestring(config.After)
		if err != nil {
			return fmt.Errorf("--after: %w", err)
		}
	}

	user := strings.ToLower(config.User)
	db, err := store.New(config.DbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	err = db.CreateUser(user)
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	lastUpdated, err := db.GetLastUpdated(user)
	if err != nil {
		return err
	}
	now := time.Now()
	if !lastUpdated.IsZero() && now.Sub(lastUpdated).Hours() < 24 && !config.Force {
		fmt.Printf("User data was already updated in the past 24 hours\n")
		return nil
	}
	fmt.Printf("User data was last updated: %s\n", lastUpdated.Format("2006-01-02"))

	latestListen, err := db.GetLatestListen(user)
	if err != nil {
		return fmt.Errorf("getting latest listen: %w", err)
	}
	fmt.Printf("Latest local listening data is from: %s\n", latestListen.Format("2006-01-02"))

	fmt.Printf("Updating database for %q\n", user)
	page := 1 // First page is 1
	pages := 0
	for {
		var recentTracks lastfm.UserGetRecentTracks
		err := retry.Do(
			func() error {
				var err error
				recentTracks, err = fetch(user, page)
				return err
			},
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.RetryIf(isLastfmServerError),
			retry.OnRetry(func(n uint, err error) {
				slog.Warn("last.fm errored, retrying", "page", page, "attempt", n+1, "err", err)
			}),
		)
		if err != nil {
			return fmt.Errorf("fetching recent tracks: %w", err)
		}

		if pages == 0 {
			pages = recentTracks.TotalPages
		}

		tracksToImport, oldestDate, err := scrobblesToImport(recentTracks)
		if err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}
		err = db.AddRecentTracks(user, tracksToImport)
		if err != nil {
			return fmt.Errorf("inserting recent tracks (page %d): %w", page, err)
		}

		fmt.Printf("Downloaded page %v of %v (oldest: %s)\n", page, pages, oldestDate.Format("2006-01-02"))
		page += 1

		if len(tracksToImport) == 0 || page > pages {
			break
		}
		if !after.IsZero() && oldestDate.Before(after) {
			break
		}
		if !config.Force && !latestListen.IsZero() && oldestDate.Before(latestListen.AddDate(0, 0, -7)) {
			fmt.Println("Refreshed back to existing data")
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	return db.SetLastUpdated(user, now)
}

// scrobblesToImport converts a page of scrobbles for the store and returns
// the oldest scrobble time. The track playing right now has no date yet and
// is skipped.
func scrobblesToImport(recentTracks lastfm.UserGetRecentTracks) ([]store.TrackImport, time.Time, error) {
	var tracks []store.TrackImport
	var oldest time.Time
	for _, t := range recentTracks.Tracks {
		if t.Date.Uts == "" {
			continue
		}
		uts, err := strconv.ParseInt(t.Date.Uts, 10, 64)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("parsing date: %w", err)
		}
		if played := time.Unix(uts, 0); oldest.IsZero() || played.Before(oldest) {
			oldest = played
		}
		tracks = append(tracks, store.TrackImport{
			Artist:    t.Artist.Name,
			Album:     t.Album.Name,
			TrackName: t.Name,
			DateUTS:   t.Date.Uts,
		})
	}
	return tracks, oldest, nil
}

func isLastfmServerError(err error) bool {
	var lerr *lastfm.LastfmError
	return errors.As(err, &lerr) && lerr.Code/100 == 5
}
