package library

import "time"

// Song is a track persisted in the hosted catalog. The ID is assigned by the
// backend on insert; ID and OwnerID never change afterwards.
type Song struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	CoverArtURL     string `json:"cover_art_url"`
	AudioURL        string `json:"audio_url"`
	DurationSeconds int    `json:"duration"`
	OwnerID         string `json:"user_id,omitempty"`
}

// User is the local projection of an authenticated identity, hydrated from the
// user-profile table on session change.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type Playlist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"user_id"`
}

// PlaylistEntry orders a song within a playlist by explicit position.
type PlaylistEntry struct {
	PlaylistID string `json:"playlist_id"`
	SongID     string `json:"song_id"`
	Position   int    `json:"position"`
}

// VerificationCode is a short-lived 6-digit email verification code.
type VerificationCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Verified  bool      `json:"verified"`
}

// Session is an authenticated backend session.
type Session struct {
	AccessToken string
	User        User
}
