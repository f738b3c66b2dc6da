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
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"

	"github.com/ademuri/vinyl-search/internal/spotify"
	"github.com/ademuri/vinyl-search/internal/store"
)

var authenticateCmd = &cobra.Command{
	Use:   "authenticate [--email=you@example.com]",
	Short: "Connects a Spotify account.",
	Long: `Prints a Spotify consent link (or emails it with --email). After approving,
paste the address the browser was redirected to, or just its code parameter.

The Spotify user URI printed at the end is the --user for albums.`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("spotify_client_id") == "" {
			return fmt.Errorf("required flag(s) \"spotify_client_id\" not set")
		}
		if viper.GetString("spotify_client_secret") == "" {
			return fmt.Errorf("required flag(s) \"spotify_client_secret\" not set")
		}
		if viper.GetString("email") != "" && viper.GetString("from") == "" {
			return fmt.Errorf("required flag(s) \"from\" not set")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		err := authenticate(cmd.Context(), viper.GetString("database"), viper.GetString("email"), os.Stdin)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(authenticateCmd)

	var email string
	authenticateCmd.Flags().StringVar(&email, "email", "", "Email the consent link to this address instead of printing it")
	viper.BindPFlag("email", authenticateCmd.Flags().Lookup("email"))
}

func spotifyOAuthConfig() *oauth2.Config {
	return spotify.OAuthConfig(
		viper.GetString("spotify_client_id"),
		viper.GetString("spotify_client_secret"),
		viper.GetString("spotify_redirect_url"))
}

func authenticate(ctx context.Context, dbPath, toAddress string, in io.Reader) error {
	db, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	conf := spotifyOAuthConfig()
	state := uuid.NewString()
	authURL := conf.AuthCodeURL(state)

	if toAddress != "" {
		if err := sendAuthEmail(viper.GetString("from"), toAddress, authURL); err != nil {
			return err
		}
		fmt.Println("Sent authentication email")
	} else {
		fmt.Println("Open this link to connect Spotify:")
		fmt.Println(authURL)
	}

	fmt.Print("Paste the redirect address or code: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("reading code: %w", err)
	}
	code, err := parseAuthorizationResponse(line, state)
	if err != nil {
		return err
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging code: %w", err)
	}

	client := spotify.New(spotify.Config{OAuth: conf})
	profile, token, err := client.Profile(ctx, token)
	if err != nil {
		return fmt.Errorf("getting profile: %w", err)
	}
	if err := db.SaveCredentials(profile.URI, profile.DisplayName, token); err != nil {
		return err
	}

	fmt.Printf("Connected %s. Use --user=%s\n", profile.DisplayName, profile.URI)
	return nil
}

func sendAuthEmail(fromAddress, toAddress, authURL string) error {
	bodyText := "Click here to connect Spotify: " + authURL
	return sendMail(fromAddress, toAddress, "Connect Spotify to vinyl-search", bodyText, bodyText)
}

// parseAuthorizationResponse extracts the authorization code from either the
// full redirect address or the bare code.
func parseAuthorizationResponse(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("no code given")
	}
	if !strings.Contains(input, "?") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect address: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization refused: %s", e)
	}
	if q.Get("state") != state {
		return "", fmt.Errorf("redirect address is from a different sign-in attempt")
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect address has no code")
	}
	return code, nil
}
