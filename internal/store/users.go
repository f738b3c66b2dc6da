package store

import (
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// SaveCredentials records a user's display name and Spotify credentials,
// creating the user if needed.
func (s *Store) SaveCredentials(user, displayName string, token *oauth2.Token) error {
	if err := s.CreateUser(user); err != nil {
		return err
	}
	var expiry int64
	if !token.Expiry.IsZero() {
		expiry = token.Expiry.Unix()
	}
	_, err := s.db.Exec(`
		UPDATE User
		SET display_name = COALESCE(NULLIF(?, ''), display_name),
		    access_token = ?, refresh_token = ?, token_type = ?, token_expiry = ?
		WHERE name = ?`,
		displayName, token.AccessToken, token.RefreshToken, token.TokenType, expiry, user)
	if err != nil {
		return fmt.Errorf("saving credentials for %q: %w", user, err)
	}
	return nil
}

// GetCredentials returns the stored Spotify credentials, or nil if the user
// never signed in.
func (s *Store) GetCredentials(user string) (*oauth2.Token, error) {
	row := s.db.QueryRow(`
		SELECT access_token, refresh_token, token_type, token_expiry
		FROM User WHERE name = ? AND refresh_token <> ''`, user)
	var access, refresh, tokenType sql.NullString
	var expiry sql.NullInt64
	err := row.Scan(&access, &refresh, &tokenType, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credentials for %q: %w", user, err)
	}
	token := &oauth2.Token{
		AccessToken:  access.String,
		RefreshToken: refresh.String,
		TokenType:    tokenType.String,
	}
	if expiry.Int64 > 0 {
		token.Expiry = time.Unix(expiry.Int64, 0)
	}
	return token, nil
}

func (s *Store) GetDisplayName(user string) (string, error) {
	var name sql.NullString
	err := s.db.QueryRow("SELECT display_name FROM User WHERE name = ?", user).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting display name for %q: %w", user, err)
	}
	return name.String, nil
}
