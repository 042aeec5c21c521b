package hosted

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuneverse/tuneverse/internal/library"
)

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := New(Config{BaseURL: srv.URL, AnonKey: "anon-key"})
	require.NoError(t, err)
	return s
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{BaseURL: "https://x.example"})
	assert.ErrorIs(t, err, library.ErrValidation)

	_, err = New(Config{AnonKey: "k"})
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestSignInStoresToken(t *testing.T) {
	var sawAuth bool
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		sawAuth = true
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"user": map[string]any{
				"id":            "u1",
				"email":         "a@b.c",
				"user_metadata": map[string]string{"name": "Ada"},
			},
		})
	})
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		json.NewEncoder(w).Encode([]library.Song{})
	})

	s := newTestStore(t, mux)
	sess, err := s.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)
	assert.True(t, sawAuth)
	assert.Equal(t, "tok-1", sess.AccessToken)
	assert.Equal(t, "u1", sess.User.ID)
	assert.Equal(t, "Ada", sess.User.Name)

	_, err = s.FetchAllSongs(context.Background())
	require.NoError(t, err)
}

func TestSignInBadCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	s := newTestStore(t, mux)
	_, err := s.SignIn(context.Background(), "a@b.c", "wrong")
	assert.ErrorIs(t, err, library.ErrUnauthorized)
}

func TestReauthenticatesOnExpiredToken(t *testing.T) {
	tokens := 0
	songCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		tokens++
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-" + string(rune('0'+tokens)),
			"user":         map[string]any{"id": "u1"},
		})
	})
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		songCalls++
		if songCalls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]library.Song{{ID: "s1"}})
	})

	s := newTestStore(t, mux)
	_, err := s.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	songs, err := s.FetchAllSongs(context.Background())
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, 2, tokens, "expected one re-authentication")
}

func TestFetchUserSongsFiltersByOwner(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		json.NewEncoder(w).Encode([]library.Song{
			{ID: "s1", Title: "One", OwnerID: "u1"},
		})
	})
	s := newTestStore(t, mux)
	songs, err := s.FetchUserSongs(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "One", songs[0].Title)
}

func TestSongExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "eq.My Song", q.Get("title"))
		assert.Equal(t, "eq.Ada", q.Get("artist"))
		assert.Equal(t, "eq.u1", q.Get("user_id"))
		if q.Get("artist") == "eq.Ada" {
			w.Write([]byte(`[{"id":"s1"}]`))
			return
		}
		w.Write([]byte(`[]`))
	})
	s := newTestStore(t, mux)
	ok, err := s.SongExists(context.Background(), "My Song", "Ada", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateSongReturnsServerRow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		var row map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		assert.Equal(t, "My Song", row["title"])
		w.Write([]byte(`[{"id":"server-id","title":"My Song","artist":"Ada","user_id":"u1"}]`))
	})
	s := newTestStore(t, mux)
	created, err := s.CreateSong(context.Background(), library.Song{Title: "My Song", Artist: "Ada", OwnerID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "server-id", created.ID)
}

func TestUploadAudioReturnsPublicURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/storage/v1/object/songs/u1/123-track.mp3", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"Key":"songs/u1/123-track.mp3"}`))
	})
	s := newTestStore(t, mux)
	got, err := s.UploadAudio(context.Background(), library.Asset{
		Key:         "u1/123-track.mp3",
		ContentType: "audio/mpeg",
		Data:        []byte("bytes"),
	})
	require.NoError(t, err)
	assert.Contains(t, got, "/storage/v1/object/public/songs/u1/123-track.mp3")
}

func TestUploadRejectsEmptyAsset(t *testing.T) {
	s := newTestStore(t, http.NewServeMux())
	_, err := s.UploadCover(context.Background(), library.Asset{})
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestEnsureProfileToleratesDuplicate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "resolution=ignore-duplicates", r.Header.Get("Prefer"))
		w.WriteHeader(http.StatusConflict)
	})
	s := newTestStore(t, mux)
	err := s.EnsureProfile(context.Background(), library.User{ID: "u1", Name: "Ada"})
	assert.NoError(t, err)
}

func TestLikeSongDuplicateIsNoError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/liked_songs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	s := newTestStore(t, mux)
	assert.NoError(t, s.LikeSong(context.Background(), "u1", "s1"))
}

func TestStatusErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	s := newTestStore(t, mux)

	_, err := s.FetchAllSongs(context.Background())
	assert.ErrorIs(t, err, library.ErrNotFound)

	status = http.StatusInternalServerError
	_, err = s.FetchAllSongs(context.Background())
	assert.ErrorIs(t, err, library.ErrRemote)
}

func TestAddSongToPlaylistAppendsPosition(t *testing.T) {
	var inserted map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/playlist_songs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[{"position":4}]`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&inserted))
		w.WriteHeader(http.StatusCreated)
	})
	s := newTestStore(t, mux)
	require.NoError(t, s.AddSongToPlaylist(context.Background(), "p1", "s1"))
	assert.Equal(t, float64(5), inserted["position"])
}

func TestFetchPlaylistSongIDsOrdered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/playlist_songs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "position.asc", r.URL.Query().Get("order"))
		w.Write([]byte(`[{"song_id":"a","position":0},{"song_id":"b","position":1}]`))
	})
	s := newTestStore(t, mux)
	ids, err := s.FetchPlaylistSongIDs(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestUpdateSongPatchesRow(t *testing.T) {
	var patched map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/songs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.s1", r.URL.Query().Get("id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusNoContent)
	})
	s := newTestStore(t, mux)
	err := s.UpdateSong(context.Background(), library.Song{
		ID:     "s1",
		Title:  "Renamed",
		Artist: "Ada",
		Album:  "B-Sides",
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", patched["title"])
	assert.Equal(t, "B-Sides", patched["album"])
}

func TestUpdateSongRequiresID(t *testing.T) {
	s := newTestStore(t, http.NewServeMux())
	err := s.UpdateSong(context.Background(), library.Song{Title: "No ID"})
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestRequestPasswordResetUsesAnonKey(t *testing.T) {
	var sentEmail string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/recover", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sentEmail = body["email"]
		w.WriteHeader(http.StatusOK)
	})
	s := newTestStore(t, mux)
	require.NoError(t, s.RequestPasswordReset(context.Background(), "a@b.c"))
	assert.Equal(t, "a@b.c", sentEmail)

	assert.ErrorIs(t, s.RequestPasswordReset(context.Background(), ""), library.ErrValidation)
}

func TestUpdatePasswordPutsNewSecret(t *testing.T) {
	var body map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"user":         map[string]any{"id": "u1"},
		})
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusOK)
	})
	s := newTestStore(t, mux)
	_, err := s.SignIn(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	require.NoError(t, s.UpdatePassword(context.Background(), "hunter22"))
	assert.Equal(t, "hunter22", body["password"])
}

func TestUpdateProfilePatchesNameAndAvatar(t *testing.T) {
	var patched map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/users", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusNoContent)
	})
	s := newTestStore(t, mux)
	err := s.UpdateProfile(context.Background(), library.User{
		ID:        "u1",
		Name:      "Ada L",
		AvatarURL: "https://x.example/avatars/u1-1.png",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada L", patched["name"])
	assert.Equal(t, "https://x.example/avatars/u1-1.png", patched["avatar_url"])

	err = s.UpdateProfile(context.Background(), library.User{Name: "No ID"})
	assert.ErrorIs(t, err, library.ErrValidation)
}

func TestUploadAvatarUsesAvatarBucket(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/storage/v1/object/avatars/u1-abc.png", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"Key":"avatars/u1-abc.png"}`))
	})
	s := newTestStore(t, mux)
	got, err := s.UploadAvatar(context.Background(), library.Asset{
		Key:         "u1-abc.png",
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
	})
	require.NoError(t, err)
	assert.Contains(t, got, "/storage/v1/object/public/avatars/u1-abc.png")
}

func TestFetchVerificationCodeNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/v1/verification_codes", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	s := newTestStore(t, mux)
	_, err := s.FetchVerificationCode(context.Background(), "u1", "123456")
	assert.ErrorIs(t, err, library.ErrNotFound)
}
