package app

import (
	"context"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tuneverse/tuneverse/internal/artwork"
	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/player"
	"github.com/tuneverse/tuneverse/internal/upload"
)

type sessionMsg struct {
	session     *library.Session
	needsVerify bool
	err         error
}

type signedOutMsg struct{}

type verifiedMsg struct {
	err error
}

type codeSentMsg struct {
	err error
}

type resetEmailSentMsg struct {
	email string
	err   error
}

type profileUpdatedMsg struct {
	session library.Session
	err     error
}

type passwordChangedMsg struct {
	err error
}

type songsMsg struct {
	songs     []library.Song
	fromCache bool
	err       error
}

type searchResultsMsg struct {
	query string
	songs []library.Song
	err   error
}

type likedIDsMsg struct {
	ids []string
	err error
}

type likeToggledMsg struct {
	songID string
	liked  bool
	err    error
}

type playlistsMsg struct {
	items []library.Playlist
	err   error
}

type playlistSongsMsg struct {
	playlistID string
	ids        []string
	err        error
}

type playlistChangedMsg struct {
	err error
}

type uploadPreparedMsg struct {
	candidates []*upload.Candidate
	err        error
}

type uploadDoneMsg struct {
	report upload.Report
	err    error
}

type playStartedMsg struct {
	song library.Song
	err  error
}

type playerUpdateMsg player.Update

type artworkMsg struct {
	ref  string
	ansi string
}

type clearErrorMsg struct{}

func (m Model) clearErrorCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

func (m Model) setError(err error) (Model, tea.Cmd) {
	m.errorMsg = err.Error()
	return m, m.clearErrorCmd()
}

func (m Model) signInCmd(email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		session, err := m.auth.SignIn(ctx, email, password)
		if err != nil {
			return sessionMsg{err: err}
		}
		return sessionMsg{session: &session}
	}
}

func (m Model) signUpCmd(name, email, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		session, err := m.auth.SignUp(ctx, name, email, password)
		if err != nil {
			return sessionMsg{err: err}
		}
		return sessionMsg{session: &session, needsVerify: true}
	}
}

func (m Model) signOutCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		_ = m.auth.SignOut(ctx)
		return signedOutMsg{}
	}
}

func (m Model) verifyCodeCmd(code string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return verifiedMsg{err: m.auth.VerifyCode(ctx, code)}
	}
}

func (m Model) resendCodeCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return codeSentMsg{err: m.auth.ResendCode(ctx)}
	}
}

func (m Model) requestResetCmd(email string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return resetEmailSentMsg{email: email, err: m.auth.RequestPasswordReset(ctx, email)}
	}
}

func (m Model) renameProfileCmd(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		session, err := m.auth.UpdateName(ctx, name)
		return profileUpdatedMsg{session: session, err: err}
	}
}

func (m Model) changePasswordCmd(password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return passwordChangedMsg{err: m.auth.UpdatePassword(ctx, password)}
	}
}

func (m Model) setAvatarCmd(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return profileUpdatedMsg{err: err}
		}
		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		session, err := m.auth.UpdateAvatar(ctx, filepath.Base(path), contentType, data)
		return profileUpdatedMsg{session: session, err: err}
	}
}

func (m Model) removeAvatarCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		session, err := m.auth.RemoveAvatar(ctx)
		return profileUpdatedMsg{session: session, err: err}
	}
}

// loadSongsCmd refreshes the catalog from the backend and re-seeds the
// local cache wholesale. When the backend is unreachable the cached
// snapshot is served instead.
func (m Model) loadSongsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		songs, err := m.store.FetchAllSongs(ctx)
		if err != nil {
			if m.catalog != nil {
				if cached, cacheErr := m.catalog.List(ctx); cacheErr == nil && len(cached) > 0 {
					return songsMsg{songs: cached, fromCache: true}
				}
			}
			return songsMsg{err: err}
		}
		if m.catalog != nil {
			_ = m.catalog.ReplaceAll(ctx, songs)
		}
		return songsMsg{songs: songs}
	}
}

func (m Model) searchCmd(query string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		songs, err := m.store.SearchSongs(ctx, query)
		if err != nil && m.catalog != nil {
			if cached, cacheErr := m.catalog.Search(ctx, query); cacheErr == nil {
				return searchResultsMsg{query: query, songs: cached}
			}
		}
		return searchResultsMsg{query: query, songs: songs, err: err}
	}
}

func (m Model) loadLikedCmd() tea.Cmd {
	return func() tea.Msg {
		session := m.auth.Current()
		if session == nil {
			return likedIDsMsg{}
		}
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		ids, err := m.store.FetchLikedSongIDs(ctx, session.User.ID)
		return likedIDsMsg{ids: ids, err: err}
	}
}

func (m Model) toggleLikeCmd(songID string, liked bool) tea.Cmd {
	return func() tea.Msg {
		session := m.auth.Current()
		if session == nil {
			return likeToggledMsg{songID: songID, err: library.ErrUnauthorized}
		}
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		var err error
		if liked {
			err = m.store.UnlikeSong(ctx, session.User.ID, songID)
		} else {
			err = m.store.LikeSong(ctx, session.User.ID, songID)
		}
		return likeToggledMsg{songID: songID, liked: !liked, err: err}
	}
}

func (m Model) loadPlaylistsCmd() tea.Cmd {
	return func() tea.Msg {
		session := m.auth.Current()
		if session == nil {
			return playlistsMsg{}
		}
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		items, err := m.store.FetchUserPlaylists(ctx, session.User.ID)
		return playlistsMsg{items: items, err: err}
	}
}

func (m Model) loadPlaylistSongsCmd(playlistID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		ids, err := m.store.FetchPlaylistSongIDs(ctx, playlistID)
		return playlistSongsMsg{playlistID: playlistID, ids: ids, err: err}
	}
}

func (m Model) createPlaylistCmd(name string) tea.Cmd {
	return func() tea.Msg {
		session := m.auth.Current()
		if session == nil {
			return playlistChangedMsg{err: library.ErrUnauthorized}
		}
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		_, err := m.store.CreatePlaylist(ctx, session.User.ID, name, "")
		return playlistChangedMsg{err: err}
	}
}

func (m Model) deletePlaylistCmd(playlistID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return playlistChangedMsg{err: m.store.DeletePlaylist(ctx, playlistID)}
	}
}

func (m Model) addToPlaylistCmd(playlistID, songID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return playlistChangedMsg{err: m.store.AddSongToPlaylist(ctx, playlistID, songID)}
	}
}

func (m Model) removeFromPlaylistCmd(playlistID, songID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		return playlistChangedMsg{err: m.store.RemoveSongFromPlaylist(ctx, playlistID, songID)}
	}
}

// prepareUploadCmd stages a file, or every audio file under a
// directory, into the upload pipeline.
func (m Model) prepareUploadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		paths, err := collectAudioPaths(path)
		if err != nil {
			return uploadPreparedMsg{err: err}
		}
		return uploadPreparedMsg{candidates: m.pipeline.Prepare(paths)}
	}
}

func collectAudioPaths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".mp3", ".flac", ".m4a", ".ogg", ".wav", ".opus", ".aac":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (m Model) uploadAllCmd() tea.Cmd {
	return func() tea.Msg {
		session := m.auth.Current()
		if session == nil {
			return uploadDoneMsg{err: library.ErrUnauthorized}
		}
		// Uploads run sequentially and can outlive the regular call deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		report, err := m.pipeline.UploadAll(ctx, session.User)
		return uploadDoneMsg{report: report, err: err}
	}
}

func (m Model) playSongCmd(song library.Song) tea.Cmd {
	return func() tea.Msg {
		if idx := m.queue.IndexOf(song.ID); idx >= 0 {
			_ = m.queue.SetCurrent(idx)
		}
		if err := m.player.Play(song); err != nil {
			return playStartedMsg{err: err}
		}
		return playStartedMsg{song: song}
	}
}

func (m Model) watchPlayerCmd() tea.Cmd {
	return func() tea.Msg {
		update, ok := <-m.player.Updates()
		if !ok {
			return nil
		}
		return playerUpdateMsg(update)
	}
}

// loadArtworkCmd renders an ANSI preview for a cover URL, consulting the
// on-disk cache before downloading.
func (m Model) loadArtworkCmd(coverURL string) tea.Cmd {
	return func() tea.Msg {
		if coverURL == "" || m.art == nil {
			return artworkMsg{ref: coverURL, ansi: artwork.Placeholder(m.cfg.Artwork.Width, m.cfg.Artwork.Height)}
		}
		if ansi, ok := m.art.Get(coverURL, m.cfg.Artwork.Width); ok {
			m.diag.RecordArtworkCacheHit()
			return artworkMsg{ref: coverURL, ansi: ansi}
		}
		m.diag.RecordArtworkCacheMiss()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
		if err != nil {
			return artworkMsg{ref: coverURL, ansi: artwork.Placeholder(m.cfg.Artwork.Width, m.cfg.Artwork.Height)}
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return artworkMsg{ref: coverURL, ansi: artwork.Placeholder(m.cfg.Artwork.Width, m.cfg.Artwork.Height)}
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return artworkMsg{ref: coverURL, ansi: artwork.Placeholder(m.cfg.Artwork.Width, m.cfg.Artwork.Height)}
		}
		ansi, err := artwork.ConvertToANSI(ctx, data, m.cfg.Artwork.Width, m.cfg.Artwork.Height)
		if err != nil {
			return artworkMsg{ref: coverURL, ansi: artwork.Placeholder(m.cfg.Artwork.Width, m.cfg.Artwork.Height)}
		}
		_ = m.art.Set(coverURL, m.cfg.Artwork.Width, ansi)
		return artworkMsg{ref: coverURL, ansi: ansi}
	}
}
