package library

import "context"

// Asset is a blob staged for upload to one of the storage buckets.
type Asset struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store is the facade over the hosted backend: auth, table CRUD, and blob
// storage. All calls are remote and may fail with ErrRemote, ErrUnauthorized,
// or ErrNotFound.
type Store interface {
	// Auth.
	SignUp(ctx context.Context, name, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error
	// RequestPasswordReset asks the backend to email a recovery link.
	RequestPasswordReset(ctx context.Context, email string) error
	// UpdatePassword changes the signed-in account's password.
	UpdatePassword(ctx context.Context, newPassword string) error

	// EnsureProfile creates the user-profile row when absent. Idempotent; the
	// hosted backend has no trigger doing this for us.
	EnsureProfile(ctx context.Context, user User) error
	FetchProfile(ctx context.Context, userID string) (User, error)
	// UpdateProfile rewrites the mutable profile fields (name, avatar).
	UpdateProfile(ctx context.Context, user User) error

	// Songs.
	FetchAllSongs(ctx context.Context) ([]Song, error)
	FetchUserSongs(ctx context.Context, userID string) ([]Song, error)
	SearchSongs(ctx context.Context, query string) ([]Song, error)
	SongExists(ctx context.Context, title, artist, ownerID string) (bool, error)
	CreateSong(ctx context.Context, song Song) (Song, error)
	UpdateSong(ctx context.Context, song Song) error
	DeleteSong(ctx context.Context, songID string) error

	// Liked songs, keyed (user, song).
	LikeSong(ctx context.Context, userID, songID string) error
	UnlikeSong(ctx context.Context, userID, songID string) error
	IsLiked(ctx context.Context, userID, songID string) (bool, error)
	FetchLikedSongIDs(ctx context.Context, userID string) ([]string, error)

	// Playlists.
	CreatePlaylist(ctx context.Context, ownerID, name, description string) (Playlist, error)
	FetchUserPlaylists(ctx context.Context, ownerID string) ([]Playlist, error)
	DeletePlaylist(ctx context.Context, playlistID string) error
	AddSongToPlaylist(ctx context.Context, playlistID, songID string) error
	RemoveSongFromPlaylist(ctx context.Context, playlistID, songID string) error
	FetchPlaylistSongIDs(ctx context.Context, playlistID string) ([]string, error)

	// Blob storage. Upload returns the public retrieval URL.
	UploadAudio(ctx context.Context, asset Asset) (string, error)
	UploadCover(ctx context.Context, asset Asset) (string, error)
	UploadAvatar(ctx context.Context, asset Asset) (string, error)
	RemoveAudio(ctx context.Context, key string) error
	RemoveCover(ctx context.Context, key string) error
	RemoveAvatar(ctx context.Context, key string) error

	// Verification codes.
	InsertVerificationCode(ctx context.Context, code VerificationCode) error
	FetchVerificationCode(ctx context.Context, userID, code string) (VerificationCode, error)
	ConsumeVerificationCode(ctx context.Context, id string) error
	// SendVerification triggers the backend edge function that emails a code.
	SendVerification(ctx context.Context, userID, email string) error
}
