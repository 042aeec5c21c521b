package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/tuneverse/tuneverse/internal/library"
)

// Table and bucket names on the hosted backend.
const (
	tableProfiles      = "users"
	tableSongs         = "songs"
	tableLikedSongs    = "liked_songs"
	tablePlaylists     = "playlists"
	tablePlaylistSongs = "playlist_songs"
	tableVerifyCodes   = "verification_codes"

	bucketAudio   = "songs"
	bucketCovers  = "covers"
	bucketAvatars = "avatars"
)

type Config struct {
	BaseURL    string
	AnonKey    string
	AnonKeyEnv string
	HTTPClient *http.Client
}

// Store talks to the hosted backend: PostgREST tables under /rest/v1,
// auth under /auth/v1, blob buckets under /storage/v1, and edge
// functions under /functions/v1.
type Store struct {
	cfg    Config
	client *http.Client

	mu       sync.RWMutex
	token    string
	email    string
	password string
}

var _ library.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.AnonKey == "" && cfg.AnonKeyEnv != "" {
		cfg.AnonKey = os.Getenv(cfg.AnonKeyEnv)
	}
	if cfg.BaseURL == "" || cfg.AnonKey == "" {
		return nil, fmt.Errorf("%w: backend base url and anon key are required", library.ErrValidation)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Store{cfg: cfg, client: client}, nil
}

func (s *Store) headers(req *http.Request) {
	req.Header.Set("apikey", s.cfg.AnonKey)
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == "" {
		token = s.cfg.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// doRequest sends the request with auth headers and retries once after
// re-authenticating when the session token has expired.
func (s *Store) doRequest(req *http.Request) (*http.Response, error) {
	s.headers(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		s.mu.RLock()
		email, password := s.email, s.password
		s.mu.RUnlock()
		if email == "" {
			return resp, nil
		}
		resp.Body.Close()
		if _, err := s.SignIn(req.Context(), email, password); err != nil {
			return nil, err
		}
		s.headers(req)
		resp, err = s.client.Do(req)
		if err != nil {
			return nil, mapTransportError(err)
		}
	}
	return resp, nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", library.ErrRemote, err)
	}
	return err
}

func statusError(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return library.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return library.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		return library.ErrDuplicate
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", library.ErrRemote, resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", library.ErrRemote, resp.StatusCode)
	}
}

// getList fetches rows from a table using PostgREST query params.
func getList[T any](ctx context.Context, s *Store, table string, params url.Values) ([]T, error) {
	u := s.cfg.BaseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.doRequest(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return nil, err
	}
	var out []T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", library.ErrRemote, table, err)
	}
	return out, nil
}

// insertOne inserts a row and decodes the representation the backend
// returns, including server-assigned columns.
func insertOne[T any](ctx context.Context, s *Store, table string, row any) (T, error) {
	var zero T
	b, err := json.Marshal(row)
	if err != nil {
		return zero, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/rest/v1/"+table, bytes.NewReader(b))
	if err != nil {
		return zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	resp, err := s.doRequest(req)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return zero, err
	}
	var rows []T
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return zero, fmt.Errorf("%w: decode %s insert: %v", library.ErrRemote, table, err)
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("%w: empty insert response for %s", library.ErrRemote, table)
	}
	return rows[0], nil
}

func (s *Store) writeRows(ctx context.Context, method, table string, params url.Values, row any) error {
	var body *bytes.Reader
	if row != nil {
		b, err := json.Marshal(row)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	u := s.cfg.BaseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if row != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// --- Auth ---

type authResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"user_metadata"`
	} `json:"user"`
}

func (s *Store) authRequest(ctx context.Context, path string, payload any) (authResponse, error) {
	var out authResponse
	b, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.AnonKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return out, mapTransportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		return out, library.ErrUnauthorized
	}
	if err := statusError(resp); err != nil {
		return out, err
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode auth response: %v", library.ErrRemote, err)
	}
	if out.AccessToken == "" {
		return out, fmt.Errorf("%w: empty access token", library.ErrRemote)
	}
	return out, nil
}

func (s *Store) SignUp(ctx context.Context, name, email, password string) (library.Session, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name},
	}
	r, err := s.authRequest(ctx, "/auth/v1/signup", payload)
	if err != nil {
		return library.Session{}, err
	}
	s.storeSession(r, email, password)
	user := library.User{ID: r.User.ID, Name: r.User.Metadata.Name, Email: r.User.Email}
	if user.Name == "" {
		user.Name = name
	}
	return library.Session{AccessToken: r.AccessToken, User: user}, nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (library.Session, error) {
	payload := map[string]string{"email": email, "password": password}
	r, err := s.authRequest(ctx, "/auth/v1/token?grant_type=password", payload)
	if err != nil {
		return library.Session{}, err
	}
	s.storeSession(r, email, password)
	return library.Session{
		AccessToken: r.AccessToken,
		User:        library.User{ID: r.User.ID, Name: r.User.Metadata.Name, Email: r.User.Email},
	}, nil
}

func (s *Store) storeSession(r authResponse, email, password string) {
	s.mu.Lock()
	s.token = r.AccessToken
	s.email = email
	s.password = password
	s.mu.Unlock()
}

func (s *Store) SignOut(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	s.headers(req)
	resp, err := s.client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
	s.mu.Lock()
	s.token = ""
	s.email = ""
	s.password = ""
	s.mu.Unlock()
	return nil
}

// RequestPasswordReset triggers the backend's recovery email. The link it
// sends lands in the web surface; the client only kicks the flow off.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", library.ErrValidation)
	}
	b, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/auth/v1/recover", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.AnonKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// UpdatePassword changes the password of the signed-in account.
func (s *Store) UpdatePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", library.ErrValidation)
	}
	b, err := json.Marshal(map[string]string{"password": newPassword})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.BaseURL+"/auth/v1/user", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.password = newPassword
	s.mu.Unlock()
	return nil
}

// --- Profiles ---

func (s *Store) EnsureProfile(ctx context.Context, user library.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/rest/v1/"+tableProfiles, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=ignore-duplicates")
	resp, err := s.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		// Already present, which is exactly what we want.
		return nil
	}
	return statusError(resp)
}

func (s *Store) FetchProfile(ctx context.Context, userID string) (library.User, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("id", "eq."+userID)
	rows, err := getList[library.User](ctx, s, tableProfiles, params)
	if err != nil {
		return library.User{}, err
	}
	if len(rows) == 0 {
		return library.User{}, library.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) UpdateProfile(ctx context.Context, user library.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", library.ErrValidation)
	}
	params := url.Values{}
	params.Set("id", "eq."+user.ID)
	row := map[string]any{
		"name":       user.Name,
		"avatar_url": user.AvatarURL,
	}
	return s.writeRows(ctx, http.MethodPatch, tableProfiles, params, row)
}

// --- Songs ---

func (s *Store) FetchAllSongs(ctx context.Context) ([]library.Song, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "created_at.desc")
	return getList[library.Song](ctx, s, tableSongs, params)
}

func (s *Store) FetchUserSongs(ctx context.Context, userID string) ([]library.Song, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+userID)
	params.Set("order", "created_at.desc")
	return getList[library.Song](ctx, s, tableSongs, params)
}

func (s *Store) SearchSongs(ctx context.Context, query string) ([]library.Song, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("or", fmt.Sprintf("(title.ilike.*%s*,artist.ilike.*%s*)", query, query))
	return getList[library.Song](ctx, s, tableSongs, params)
}

func (s *Store) SongExists(ctx context.Context, title, artist, ownerID string) (bool, error) {
	params := url.Values{}
	params.Set("select", "id")
	params.Set("title", "eq."+title)
	params.Set("artist", "eq."+artist)
	params.Set("user_id", "eq."+ownerID)
	params.Set("limit", "1")
	rows, err := getList[struct {
		ID string `json:"id"`
	}](ctx, s, tableSongs, params)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) CreateSong(ctx context.Context, song library.Song) (library.Song, error) {
	row := map[string]any{
		"title":         song.Title,
		"artist":        song.Artist,
		"album":         song.Album,
		"cover_art_url": song.CoverArtURL,
		"audio_url":     song.AudioURL,
		"duration":      song.DurationSeconds,
		"user_id":       song.OwnerID,
	}
	return insertOne[library.Song](ctx, s, tableSongs, row)
}

func (s *Store) UpdateSong(ctx context.Context, song library.Song) error {
	if song.ID == "" {
		return fmt.Errorf("%w: song id is required", library.ErrValidation)
	}
	params := url.Values{}
	params.Set("id", "eq."+song.ID)
	row := map[string]any{
		"title":  song.Title,
		"artist": song.Artist,
		"album":  song.Album,
	}
	return s.writeRows(ctx, http.MethodPatch, tableSongs, params, row)
}

func (s *Store) DeleteSong(ctx context.Context, songID string) error {
	params := url.Values{}
	params.Set("id", "eq."+songID)
	return s.writeRows(ctx, http.MethodDelete, tableSongs, params, nil)
}

// --- Liked songs ---

func (s *Store) LikeSong(ctx context.Context, userID, songID string) error {
	row := map[string]string{"user_id": userID, "song_id": songID}
	err := s.writeRows(ctx, http.MethodPost, tableLikedSongs, nil, row)
	if errors.Is(err, library.ErrDuplicate) {
		return nil
	}
	return err
}

func (s *Store) UnlikeSong(ctx context.Context, userID, songID string) error {
	params := url.Values{}
	params.Set("user_id", "eq."+userID)
	params.Set("song_id", "eq."+songID)
	return s.writeRows(ctx, http.MethodDelete, tableLikedSongs, params, nil)
}

func (s *Store) IsLiked(ctx context.Context, userID, songID string) (bool, error) {
	params := url.Values{}
	params.Set("select", "song_id")
	params.Set("user_id", "eq."+userID)
	params.Set("song_id", "eq."+songID)
	params.Set("limit", "1")
	rows, err := getList[struct {
		SongID string `json:"song_id"`
	}](ctx, s, tableLikedSongs, params)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (s *Store) FetchLikedSongIDs(ctx context.Context, userID string) ([]string, error) {
	params := url.Values{}
	params.Set("select", "song_id")
	params.Set("user_id", "eq."+userID)
	rows, err := getList[struct {
		SongID string `json:"song_id"`
	}](ctx, s, tableLikedSongs, params)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.SongID)
	}
	return ids, nil
}

// --- Playlists ---

func (s *Store) CreatePlaylist(ctx context.Context, ownerID, name, description string) (library.Playlist, error) {
	if name == "" {
		return library.Playlist{}, fmt.Errorf("%w: playlist name is required", library.ErrValidation)
	}
	row := map[string]string{"name": name, "description": description, "user_id": ownerID}
	return insertOne[library.Playlist](ctx, s, tablePlaylists, row)
}

func (s *Store) FetchUserPlaylists(ctx context.Context, ownerID string) ([]library.Playlist, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+ownerID)
	params.Set("order", "created_at.desc")
	return getList[library.Playlist](ctx, s, tablePlaylists, params)
}

func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	// Membership rows first so the playlist row never orphans them.
	params := url.Values{}
	params.Set("playlist_id", "eq."+playlistID)
	if err := s.writeRows(ctx, http.MethodDelete, tablePlaylistSongs, params, nil); err != nil {
		return err
	}
	params = url.Values{}
	params.Set("id", "eq."+playlistID)
	return s.writeRows(ctx, http.MethodDelete, tablePlaylists, params, nil)
}

func (s *Store) AddSongToPlaylist(ctx context.Context, playlistID, songID string) error {
	pos, err := s.nextPlaylistPosition(ctx, playlistID)
	if err != nil {
		return err
	}
	row := map[string]any{"playlist_id": playlistID, "song_id": songID, "position": pos}
	err = s.writeRows(ctx, http.MethodPost, tablePlaylistSongs, nil, row)
	if errors.Is(err, library.ErrDuplicate) {
		return nil
	}
	return err
}

func (s *Store) nextPlaylistPosition(ctx context.Context, playlistID string) (int, error) {
	params := url.Values{}
	params.Set("select", "position")
	params.Set("playlist_id", "eq."+playlistID)
	params.Set("order", "position.desc")
	params.Set("limit", "1")
	rows, err := getList[struct {
		Position int `json:"position"`
	}](ctx, s, tablePlaylistSongs, params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Position + 1, nil
}

func (s *Store) RemoveSongFromPlaylist(ctx context.Context, playlistID, songID string) error {
	params := url.Values{}
	params.Set("playlist_id", "eq."+playlistID)
	params.Set("song_id", "eq."+songID)
	return s.writeRows(ctx, http.MethodDelete, tablePlaylistSongs, params, nil)
}

func (s *Store) FetchPlaylistSongIDs(ctx context.Context, playlistID string) ([]string, error) {
	params := url.Values{}
	params.Set("select", "song_id,position")
	params.Set("playlist_id", "eq."+playlistID)
	params.Set("order", "position.asc")
	rows, err := getList[library.PlaylistEntry](ctx, s, tablePlaylistSongs, params)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.SongID)
	}
	return ids, nil
}

// --- Blob storage ---

func (s *Store) UploadAudio(ctx context.Context, asset library.Asset) (string, error) {
	return s.uploadObject(ctx, bucketAudio, asset)
}

func (s *Store) UploadCover(ctx context.Context, asset library.Asset) (string, error) {
	return s.uploadObject(ctx, bucketCovers, asset)
}

func (s *Store) RemoveAudio(ctx context.Context, key string) error {
	return s.removeObject(ctx, bucketAudio, key)
}

func (s *Store) RemoveCover(ctx context.Context, key string) error {
	return s.removeObject(ctx, bucketCovers, key)
}

func (s *Store) UploadAvatar(ctx context.Context, asset library.Asset) (string, error) {
	return s.uploadObject(ctx, bucketAvatars, asset)
}

func (s *Store) RemoveAvatar(ctx context.Context, key string) error {
	return s.removeObject(ctx, bucketAvatars, key)
}

func (s *Store) uploadObject(ctx context.Context, bucket string, asset library.Asset) (string, error) {
	if asset.Key == "" || len(asset.Data) == 0 {
		return "", fmt.Errorf("%w: asset key and data are required", library.ErrValidation)
	}
	u := s.cfg.BaseURL + "/storage/v1/object/" + bucket + "/" + asset.Key
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(asset.Data))
	if err != nil {
		return "", err
	}
	if asset.ContentType != "" {
		req.Header.Set("Content-Type", asset.ContentType)
	}
	resp, err := s.doRequest(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return "", err
	}
	return s.PublicURL(bucket, asset.Key), nil
}

func (s *Store) removeObject(ctx context.Context, bucket, key string) error {
	u := s.cfg.BaseURL + "/storage/v1/object/" + bucket + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := s.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}

// PublicURL returns the unauthenticated retrieval URL for a stored object.
func (s *Store) PublicURL(bucket, key string) string {
	return s.cfg.BaseURL + "/storage/v1/object/public/" + bucket + "/" + key
}

// --- Verification codes ---

func (s *Store) InsertVerificationCode(ctx context.Context, code library.VerificationCode) error {
	row := map[string]any{
		"id":         code.ID,
		"user_id":    code.UserID,
		"code":       code.Code,
		"expires_at": code.ExpiresAt.Format(time.RFC3339),
		"verified":   code.Verified,
	}
	return s.writeRows(ctx, http.MethodPost, tableVerifyCodes, nil, row)
}

func (s *Store) FetchVerificationCode(ctx context.Context, userID, code string) (library.VerificationCode, error) {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+userID)
	params.Set("code", "eq."+code)
	params.Set("verified", "eq.false")
	params.Set("order", "expires_at.desc")
	params.Set("limit", "1")
	rows, err := getList[library.VerificationCode](ctx, s, tableVerifyCodes, params)
	if err != nil {
		return library.VerificationCode{}, err
	}
	if len(rows) == 0 {
		return library.VerificationCode{}, library.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) ConsumeVerificationCode(ctx context.Context, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	return s.writeRows(ctx, http.MethodPatch, tableVerifyCodes, params, map[string]bool{"verified": true})
}

func (s *Store) SendVerification(ctx context.Context, userID, email string) error {
	payload := map[string]string{"user_id": userID, "email": email}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/functions/v1/send-verification", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusError(resp)
}
