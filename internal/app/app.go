package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tuneverse/tuneverse/internal/artwork"
	"github.com/tuneverse/tuneverse/internal/auth"
	"github.com/tuneverse/tuneverse/internal/config"
	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/player"
	"github.com/tuneverse/tuneverse/internal/queue"
	"github.com/tuneverse/tuneverse/internal/stores/cache"
	"github.com/tuneverse/tuneverse/internal/ui"
	"github.com/tuneverse/tuneverse/internal/upload"
)

type screen int

const (
	screenLogin screen = iota
	screenSignup
	screenVerify
	screenLibrary
	screenSearch
	screenLiked
	screenPlaylists
	screenUpload
	screenNowPlaying
	screenQueue
	screenProfile
)

// firstMainScreen..lastMainScreen bound the tab cycle once signed in.
const (
	firstMainScreen = screenLibrary
	lastMainScreen  = screenProfile
)

// profileField says which account detail the profile screen is editing.
type profileField int

const (
	profileFieldNone profileField = iota
	profileFieldName
	profileFieldPassword
	profileFieldAvatar
)

// seekStepPercent is how far left/right jump within the current song.
const seekStepPercent = 5

type Model struct {
	cfg      *config.Config
	store    library.Store
	auth     *auth.Manager
	player   *player.Session
	queue    *queue.Queue
	pipeline *upload.Pipeline
	catalog  *cache.Catalog
	art      *artwork.Cache
	theme    ui.Theme

	screen    screen
	status    string
	errorMsg  string
	fatalErr  error
	width     int
	height    int
	showHelp  bool
	showDiag  bool
	diag      *DiagnosticsState
	selection int

	user *library.User

	songs         []library.Song
	searchResults []library.Song
	likedIDs      map[string]bool
	playlists     []library.Playlist
	openPlaylist  *library.Playlist
	playlistSongs []library.Song
	candidates    []*upload.Candidate
	uploading     bool
	report        *upload.Report

	playback player.Update
	artRef   string
	artANSI  string

	nameInput     textinput.Model
	emailInput    textinput.Model
	passwordInput textinput.Model
	codeInput     textinput.Model
	searchInput   textinput.Model
	pathInput     textinput.Model
	listInput     textinput.Model
	avatarInput   textinput.Model
	focus         int
	typing        bool
	profileEdit   profileField
}

func New(cfg *config.Config, store library.Store, authMgr *auth.Manager, session *player.Session,
	q *queue.Queue, pipeline *upload.Pipeline, catalog *cache.Catalog, art *artwork.Cache) Model {

	name := textinput.New()
	name.Placeholder = "name"
	name.CharLimit = 64

	email := textinput.New()
	email.Placeholder = "email"
	email.CharLimit = 128
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 128

	code := textinput.New()
	code.Placeholder = "6-digit code"
	code.CharLimit = 6

	search := textinput.New()
	search.Placeholder = "search songs or artists"
	search.CharLimit = 128

	path := textinput.New()
	path.Placeholder = "path to an audio file or directory"
	path.CharLimit = 512

	list := textinput.New()
	list.Placeholder = "playlist name"
	list.CharLimit = 64

	avatar := textinput.New()
	avatar.Placeholder = "path to an image file"
	avatar.CharLimit = 512

	return Model{
		cfg:           cfg,
		store:         store,
		auth:          authMgr,
		player:        session,
		queue:         q,
		pipeline:      pipeline,
		catalog:       catalog,
		art:           art,
		theme:         ui.GetTheme(cfg.UI.Theme, false),
		screen:        screenLogin,
		status:        "Sign in to Tuneverse",
		diag:          NewDiagnosticsState(),
		likedIDs:      map[string]bool{},
		nameInput:     name,
		emailInput:    email,
		passwordInput: password,
		codeInput:     code,
		searchInput:   search,
		pathInput:     path,
		listInput:     list,
		avatarInput:   avatar,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.watchPlayerCmd())
}

func (m Model) selectedSong() (library.Song, bool) {
	list := m.currentSongList()
	if len(list) == 0 {
		return library.Song{}, false
	}
	return list[clamp(m.selection, 0, len(list)-1)], true
}

func (m Model) currentSongList() []library.Song {
	switch m.screen {
	case screenLibrary:
		return m.songs
	case screenSearch:
		return m.searchResults
	case screenLiked:
		return m.likedSongs()
	case screenPlaylists:
		if m.openPlaylist != nil {
			return m.playlistSongs
		}
	case screenQueue:
		return m.queue.Items()
	}
	return nil
}

func (m Model) likedSongs() []library.Song {
	var out []library.Song
	for _, s := range m.songs {
		if m.likedIDs[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

func (m Model) currentListLen() int {
	switch m.screen {
	case screenPlaylists:
		if m.openPlaylist == nil {
			return len(m.playlists)
		}
		return len(m.playlistSongs)
	case screenUpload:
		return len(m.candidates)
	default:
		return len(m.currentSongList())
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil

	case sessionMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.user = &msg.session.User
		m.selection = 0
		if msg.needsVerify {
			m.screen = screenVerify
			m.codeInput.Focus()
			m.status = "Check your email for a verification code"
		} else {
			m.screen = screenLibrary
			m.status = "Signed in as " + displayName(msg.session.User)
		}
		return m, tea.Batch(m.loadSongsCmd(), m.loadLikedCmd(), m.loadPlaylistsCmd())

	case signedOutMsg:
		m.user = nil
		m.songs = nil
		m.searchResults = nil
		m.likedIDs = map[string]bool{}
		m.playlists = nil
		m.openPlaylist = nil
		m.queue.Clear()
		m.screen = screenLogin
		m.focus = 0
		m.typing = false
		m.profileEdit = profileFieldNone
		m.emailInput.Focus()
		m.passwordInput.Blur()
		m.status = "Signed out"
		return m, nil

	case verifiedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.screen = screenLibrary
		m.status = "Email verified"
		return m, nil

	case codeSentMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.status = "Verification code sent"
		return m, nil

	case resetEmailSentMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.status = "Password reset email sent to " + msg.email
		return m, nil

	case profileUpdatedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.user = &msg.session.User
		m.status = "Profile updated"
		return m, nil

	case passwordChangedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.status = "Password changed"
		return m, nil

	case songsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.songs = msg.songs
		m.queue.Replace(msg.songs)
		if msg.fromCache {
			m.status = fmt.Sprintf("Offline: %d songs from local cache", len(msg.songs))
		} else {
			m.status = fmt.Sprintf("%d songs", len(msg.songs))
		}
		return m, nil

	case searchResultsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.searchResults = msg.songs
		m.selection = 0
		m.status = fmt.Sprintf("Found %d songs for %q", len(msg.songs), msg.query)
		return m, nil

	case likedIDsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.likedIDs = map[string]bool{}
		for _, id := range msg.ids {
			m.likedIDs[id] = true
		}
		return m, nil

	case likeToggledMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.likedIDs[msg.songID] = msg.liked
		if !msg.liked {
			delete(m.likedIDs, msg.songID)
		}
		return m, nil

	case playlistsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.playlists = msg.items
		return m, nil

	case playlistSongsMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.playlistSongs = m.songsByID(msg.ids)
		m.selection = 0
		return m, nil

	case playlistChangedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		cmds := []tea.Cmd{m.loadPlaylistsCmd()}
		if m.openPlaylist != nil {
			cmds = append(cmds, m.loadPlaylistSongsCmd(m.openPlaylist.ID))
		}
		return m, tea.Batch(cmds...)

	case uploadPreparedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.candidates = msg.candidates
		m.selection = 0
		m.status = fmt.Sprintf("%d files staged for upload", len(msg.candidates))
		return m, nil

	case uploadDoneMsg:
		m.uploading = false
		m.candidates = m.pipeline.Candidates()
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.report = &msg.report
		m.status = msg.report.String()
		if msg.report.Clean() && m.screen == screenUpload {
			m.screen = screenLibrary
			m.selection = 0
		}
		return m, m.loadSongsCmd()

	case playStartedMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.status = "Playing " + msg.song.Title
		return m, nil

	case playerUpdateMsg:
		m.playback = player.Update(msg)
		cmds := []tea.Cmd{m.watchPlayerCmd()}
		if msg.Err != nil {
			m.errorMsg = msg.Err.Error()
			cmds = append(cmds, m.clearErrorCmd())
		}
		if !m.cfg.Artwork.Disabled && msg.Song.CoverArtURL != m.artRef {
			m.artRef = msg.Song.CoverArtURL
			cmds = append(cmds, m.loadArtworkCmd(msg.Song.CoverArtURL))
		}
		return m, tea.Batch(cmds...)

	case artworkMsg:
		if msg.ref == m.artRef {
			m.artANSI = msg.ansi
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) songsByID(ids []string) []library.Song {
	byID := make(map[string]library.Song, len(m.songs))
	for _, s := range m.songs {
		byID[s.ID] = s
	}
	out := make([]library.Song, 0, len(ids))
	for _, id := range ids {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.screen {
	case screenLogin:
		return m.handleLoginKey(msg)
	case screenSignup:
		return m.handleSignupKey(msg)
	case screenVerify:
		return m.handleVerifyKey(msg)
	}

	if m.typing {
		return m.handleTypingKey(msg)
	}

	switch msg.String() {
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "ctrl+d":
		m.showDiag = !m.showDiag
		return m, nil
	case "q":
		return m, tea.Quit
	case "tab":
		m.screen++
		if m.screen > lastMainScreen {
			m.screen = firstMainScreen
		}
		m.selection = 0
		return m.enterScreen()
	case "shift+tab":
		m.screen--
		if m.screen < firstMainScreen {
			m.screen = lastMainScreen
		}
		m.selection = 0
		return m.enterScreen()
	case "j", "down":
		if m.selection < m.currentListLen()-1 {
			m.selection++
		}
		return m, nil
	case "k", "up":
		if m.selection > 0 {
			m.selection--
		}
		return m, nil
	case "enter":
		return m.handleEnter()
	case " ":
		return m, func() tea.Msg {
			if err := m.player.TogglePause(); err != nil {
				return playerUpdateMsg(player.Update{Err: err})
			}
			return nil
		}
	case "n":
		return m, func() tea.Msg {
			if err := m.player.Next(); err != nil {
				return playerUpdateMsg(player.Update{Err: err})
			}
			return nil
		}
	case "p":
		return m, func() tea.Msg {
			if err := m.player.Previous(); err != nil {
				return playerUpdateMsg(player.Update{Err: err})
			}
			return nil
		}
	case "left", "h":
		return m.seekBy(-seekStepPercent)
	case "right", "l":
		return m.seekBy(seekStepPercent)
	case "+", "=":
		return m.adjustVolume(float64(m.cfg.Player.VolumeStep) / 100)
	case "-":
		return m.adjustVolume(-float64(m.cfg.Player.VolumeStep) / 100)
	case "s":
		m.queue.ToggleShuffle()
		return m, nil
	case "L":
		if song, ok := m.selectedSong(); ok {
			return m, m.toggleLikeCmd(song.ID, m.likedIDs[song.ID])
		}
		return m, nil
	case "/":
		m.screen = screenSearch
		m.typing = true
		m.searchInput.Focus()
		return m, textinput.Blink
	case "u":
		m.screen = screenUpload
		m.selection = 0
		return m, nil
	case "ctrl+o":
		return m, m.signOutCmd()
	}

	return m.handleScreenKey(msg)
}

// handleTypingKey routes keys to whichever text input is active.
func (m Model) handleTypingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.typing = false
		m.searchInput.Blur()
		m.pathInput.Blur()
		m.listInput.Blur()
		m.nameInput.Blur()
		m.passwordInput.Blur()
		m.avatarInput.Blur()
		m.profileEdit = profileFieldNone
		return m, nil
	case "enter":
		m.typing = false
		switch m.screen {
		case screenSearch:
			m.searchInput.Blur()
			query := strings.TrimSpace(m.searchInput.Value())
			if query == "" {
				return m, nil
			}
			m.status = "Searching…"
			return m, m.searchCmd(query)
		case screenUpload:
			m.pathInput.Blur()
			path := strings.TrimSpace(m.pathInput.Value())
			if path == "" {
				return m, nil
			}
			return m, m.prepareUploadCmd(path)
		case screenPlaylists:
			m.listInput.Blur()
			name := strings.TrimSpace(m.listInput.Value())
			m.listInput.SetValue("")
			if name == "" {
				return m, nil
			}
			return m, m.createPlaylistCmd(name)
		case screenProfile:
			return m.submitProfileEdit()
		}
		return m, nil
	}

	var cmd tea.Cmd
	switch m.screen {
	case screenSearch:
		m.searchInput, cmd = m.searchInput.Update(msg)
	case screenUpload:
		m.pathInput, cmd = m.pathInput.Update(msg)
	case screenPlaylists:
		m.listInput, cmd = m.listInput.Update(msg)
	case screenProfile:
		switch m.profileEdit {
		case profileFieldName:
			m.nameInput, cmd = m.nameInput.Update(msg)
		case profileFieldPassword:
			m.passwordInput, cmd = m.passwordInput.Update(msg)
		case profileFieldAvatar:
			m.avatarInput, cmd = m.avatarInput.Update(msg)
		}
	}
	return m, cmd
}

// submitProfileEdit dispatches whichever account edit was being typed.
func (m Model) submitProfileEdit() (tea.Model, tea.Cmd) {
	edit := m.profileEdit
	m.profileEdit = profileFieldNone
	switch edit {
	case profileFieldName:
		m.nameInput.Blur()
		name := strings.TrimSpace(m.nameInput.Value())
		if name == "" {
			return m, nil
		}
		m.status = "Saving profile…"
		return m, m.renameProfileCmd(name)
	case profileFieldPassword:
		m.passwordInput.Blur()
		password := m.passwordInput.Value()
		m.passwordInput.SetValue("")
		if password == "" {
			return m, nil
		}
		m.status = "Changing password…"
		return m, m.changePasswordCmd(password)
	case profileFieldAvatar:
		m.avatarInput.Blur()
		path := strings.TrimSpace(m.avatarInput.Value())
		if path == "" {
			return m, nil
		}
		m.status = "Uploading avatar…"
		return m, m.setAvatarCmd(path)
	}
	return m, nil
}

func (m Model) handleScreenKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenUpload:
		switch msg.String() {
		case "i":
			m.typing = true
			m.pathInput.Focus()
			return m, textinput.Blink
		case "U":
			if m.uploading || len(m.candidates) == 0 {
				return m, nil
			}
			m.uploading = true
			m.report = nil
			m.status = "Uploading…"
			return m, m.uploadAllCmd()
		case "d":
			if len(m.candidates) > 0 {
				idx := clamp(m.selection, 0, len(m.candidates)-1)
				m.pipeline.Remove(m.candidates[idx].ID)
				m.candidates = m.pipeline.Candidates()
				if m.selection >= len(m.candidates) && m.selection > 0 {
					m.selection--
				}
			}
			return m, nil
		case "c":
			m.pipeline.Clear()
			m.candidates = nil
			m.report = nil
			return m, nil
		}
	case screenPlaylists:
		switch msg.String() {
		case "N":
			m.typing = true
			m.listInput.Focus()
			return m, textinput.Blink
		case "d":
			if m.openPlaylist != nil {
				if len(m.playlistSongs) > 0 {
					idx := clamp(m.selection, 0, len(m.playlistSongs)-1)
					return m, m.removeFromPlaylistCmd(m.openPlaylist.ID, m.playlistSongs[idx].ID)
				}
				return m, nil
			}
			if len(m.playlists) > 0 {
				idx := clamp(m.selection, 0, len(m.playlists)-1)
				return m, m.deletePlaylistCmd(m.playlists[idx].ID)
			}
			return m, nil
		case "esc", "backspace":
			m.openPlaylist = nil
			m.playlistSongs = nil
			m.selection = 0
			return m, nil
		}
	case screenLibrary, screenSearch, screenLiked:
		switch msg.String() {
		case "A":
			if m.openPlaylist == nil {
				return m, nil
			}
			if song, ok := m.selectedSong(); ok {
				m.status = fmt.Sprintf("Added %q to %s", song.Title, m.openPlaylist.Name)
				return m, m.addToPlaylistCmd(m.openPlaylist.ID, song.ID)
			}
			return m, nil
		case "D":
			if song, ok := m.selectedSong(); ok && m.user != nil && song.OwnerID == m.user.ID {
				return m, m.deleteSongCmd(song.ID)
			}
			return m, nil
		}
	case screenQueue:
		switch msg.String() {
		case "d":
			if err := m.queue.Remove(m.selection); err == nil {
				if m.selection >= m.queue.Len() && m.selection > 0 {
					m.selection--
				}
			}
			return m, nil
		case "J":
			if m.selection < m.queue.Len()-1 {
				_ = m.queue.Move(m.selection, m.selection+1)
				m.selection++
			}
			return m, nil
		case "K":
			if m.selection > 0 {
				_ = m.queue.Move(m.selection, m.selection-1)
				m.selection--
			}
			return m, nil
		}
	case screenProfile:
		switch msg.String() {
		case "e":
			m.typing = true
			m.profileEdit = profileFieldName
			if m.user != nil {
				m.nameInput.SetValue(m.user.Name)
			}
			m.nameInput.Focus()
			return m, textinput.Blink
		case "w":
			m.typing = true
			m.profileEdit = profileFieldPassword
			m.passwordInput.SetValue("")
			m.passwordInput.Focus()
			return m, textinput.Blink
		case "a":
			m.typing = true
			m.profileEdit = profileFieldAvatar
			m.avatarInput.Focus()
			return m, textinput.Blink
		case "x":
			if m.user == nil || m.user.AvatarURL == "" {
				return m, nil
			}
			m.status = "Removing avatar…"
			return m, m.removeAvatarCmd()
		}
	}
	return m, nil
}

func (m Model) deleteSongCmd(songID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.cfg.DeadlineContext()
		defer cancel()
		if err := m.store.DeleteSong(ctx, songID); err != nil {
			return songsMsg{err: err}
		}
		return nil
	}
}

func (m Model) enterScreen() (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenLiked:
		return m, m.loadLikedCmd()
	case screenPlaylists:
		return m, m.loadPlaylistsCmd()
	}
	return m, nil
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenLibrary, screenSearch, screenLiked:
		if song, ok := m.selectedSong(); ok {
			return m, m.playSongCmd(song)
		}
	case screenPlaylists:
		if m.openPlaylist == nil {
			if len(m.playlists) > 0 {
				idx := clamp(m.selection, 0, len(m.playlists)-1)
				pl := m.playlists[idx]
				m.openPlaylist = &pl
				return m, m.loadPlaylistSongsCmd(pl.ID)
			}
			return m, nil
		}
		if len(m.playlistSongs) > 0 {
			m.queue.Replace(m.playlistSongs)
			idx := clamp(m.selection, 0, len(m.playlistSongs)-1)
			return m, m.playSongCmd(m.playlistSongs[idx])
		}
	case screenQueue:
		items := m.queue.Items()
		if len(items) > 0 {
			idx := clamp(m.selection, 0, len(items)-1)
			_ = m.queue.SetCurrent(idx)
			return m, m.playSongCmd(items[idx])
		}
	case screenNowPlaying:
		return m, func() tea.Msg {
			if err := m.player.TogglePause(); err != nil {
				return playerUpdateMsg(player.Update{Err: err})
			}
			return nil
		}
	}
	return m, nil
}

func (m Model) seekBy(deltaPercent float64) (tea.Model, tea.Cmd) {
	target := m.playback.ProgressPercent + deltaPercent
	return m, func() tea.Msg {
		if err := m.player.Seek(target); err != nil {
			return playerUpdateMsg(player.Update{Err: err})
		}
		return nil
	}
}

func (m Model) adjustVolume(delta float64) (tea.Model, tea.Cmd) {
	target := m.player.Volume() + delta
	return m, func() tea.Msg {
		if err := m.player.SetVolume(target); err != nil {
			return playerUpdateMsg(player.Update{Err: err})
		}
		return nil
	}
}

// --- Auth screens ---

func (m Model) handleLoginKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		m.focus = (m.focus + 1) % 2
		if m.focus == 0 {
			m.emailInput.Focus()
			m.passwordInput.Blur()
		} else {
			m.emailInput.Blur()
			m.passwordInput.Focus()
		}
		return m, textinput.Blink
	case "enter":
		email := strings.TrimSpace(m.emailInput.Value())
		password := m.passwordInput.Value()
		if email == "" || password == "" {
			m.errorMsg = "email and password are required"
			return m, m.clearErrorCmd()
		}
		m.status = "Signing in…"
		return m, m.signInCmd(email, password)
	case "ctrl+n":
		m.screen = screenSignup
		m.focus = 0
		m.nameInput.Focus()
		m.emailInput.Blur()
		m.passwordInput.Blur()
		return m, textinput.Blink
	case "ctrl+r":
		email := strings.TrimSpace(m.emailInput.Value())
		if email == "" {
			m.errorMsg = "enter your email first, then press ctrl+r"
			return m, m.clearErrorCmd()
		}
		m.status = "Sending reset email…"
		return m, m.requestResetCmd(email)
	}
	var cmd tea.Cmd
	if m.focus == 0 {
		m.emailInput, cmd = m.emailInput.Update(msg)
	} else {
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m Model) handleSignupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		if msg.String() == "tab" {
			m.focus = (m.focus + 1) % 3
		} else {
			m.focus = (m.focus + 2) % 3
		}
		m.nameInput.Blur()
		m.emailInput.Blur()
		m.passwordInput.Blur()
		switch m.focus {
		case 0:
			m.nameInput.Focus()
		case 1:
			m.emailInput.Focus()
		case 2:
			m.passwordInput.Focus()
		}
		return m, textinput.Blink
	case "enter":
		name := strings.TrimSpace(m.nameInput.Value())
		email := strings.TrimSpace(m.emailInput.Value())
		password := m.passwordInput.Value()
		if name == "" || email == "" || password == "" {
			m.errorMsg = "name, email and password are required"
			return m, m.clearErrorCmd()
		}
		m.status = "Creating account…"
		return m, m.signUpCmd(name, email, password)
	case "esc":
		m.screen = screenLogin
		m.focus = 0
		m.emailInput.Focus()
		m.nameInput.Blur()
		m.passwordInput.Blur()
		return m, textinput.Blink
	}
	var cmd tea.Cmd
	switch m.focus {
	case 0:
		m.nameInput, cmd = m.nameInput.Update(msg)
	case 1:
		m.emailInput, cmd = m.emailInput.Update(msg)
	case 2:
		m.passwordInput, cmd = m.passwordInput.Update(msg)
	}
	return m, cmd
}

func (m Model) handleVerifyKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		code := strings.TrimSpace(m.codeInput.Value())
		if len(code) != 6 {
			m.errorMsg = "enter the 6-digit code from your email"
			return m, m.clearErrorCmd()
		}
		return m, m.verifyCodeCmd(code)
	case "ctrl+r":
		return m, m.resendCodeCmd()
	case "esc":
		m.screen = screenLibrary
		return m, nil
	}
	var cmd tea.Cmd
	m.codeInput, cmd = m.codeInput.Update(msg)
	return m, cmd
}

// --- Views ---

func (m Model) View() string {
	if m.fatalErr != nil {
		return m.renderFatalError()
	}
	if m.showHelp {
		return m.renderHelp()
	}
	if m.showDiag {
		return m.diag.Render(&m)
	}
	var main string
	switch m.screen {
	case screenLogin:
		main = m.renderLogin()
	case screenSignup:
		main = m.renderSignup()
	case screenVerify:
		main = m.renderVerify()
	case screenLibrary:
		main = m.renderSongList("Library", m.songs)
	case screenSearch:
		main = m.renderSearch()
	case screenLiked:
		main = m.renderSongList("Liked Songs", m.likedSongs())
	case screenPlaylists:
		main = m.renderPlaylists()
	case screenUpload:
		main = m.renderUpload()
	case screenNowPlaying:
		main = m.renderNowPlaying()
	case screenQueue:
		main = m.renderQueue()
	case screenProfile:
		main = m.renderProfile()
	}
	top := lipgloss.NewStyle().Bold(true).Render("Tuneverse ▸ " + m.screenTitle())
	status := m.theme.Dim.Render(m.status)
	if m.errorMsg != "" {
		status = m.theme.Error.Render(m.errorMsg)
	}
	bottom := m.renderPlayerBar()
	return lipgloss.JoinVertical(lipgloss.Left, top, main, status, bottom)
}

func (m Model) renderFatalError() string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		m.theme.Border.Render(
			lipgloss.JoinVertical(lipgloss.Center,
				m.theme.Error.Render("Fatal Error"),
				"",
				m.theme.Text.Render(m.fatalErr.Error()),
				"",
				m.theme.Dim.Render("Press Ctrl+C to quit"),
			),
		),
	)
}

func (m Model) renderLogin() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Sign In") + "\n\n")
	b.WriteString("  " + m.emailInput.View() + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")
	b.WriteString(m.theme.Dim.Render("  enter: sign in · tab: next field · ctrl+n: create account · ctrl+r: reset password") + "\n")
	return b.String()
}

func (m Model) renderSignup() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Create Account") + "\n\n")
	b.WriteString("  " + m.nameInput.View() + "\n")
	b.WriteString("  " + m.emailInput.View() + "\n")
	b.WriteString("  " + m.passwordInput.View() + "\n\n")
	b.WriteString(m.theme.Dim.Render("  enter: sign up · tab: next field · esc: back to sign in") + "\n")
	return b.String()
}

func (m Model) renderVerify() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Verify Email") + "\n\n")
	b.WriteString("  " + m.codeInput.View() + "\n\n")
	b.WriteString(m.theme.Dim.Render("  enter: verify · ctrl+r: resend code · esc: skip") + "\n")
	return b.String()
}

func (m Model) renderSongList(title string, songs []library.Song) string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render(title) + "\n")
	if len(songs) == 0 {
		b.WriteString(m.theme.Dim.Render("  (empty)") + "\n")
		return b.String()
	}
	for i, s := range songs {
		prefix := "  "
		if i == m.selection {
			prefix = "⏵ "
		}
		heart := "  "
		if m.likedIDs[s.ID] {
			heart = "♥ "
		}
		dur := fmt.Sprintf("%d:%02d", s.DurationSeconds/60, s.DurationSeconds%60)
		line := fmt.Sprintf("%s%s%s — %s (%s)", prefix, heart, s.Artist, s.Title, dur)
		if i == m.selection {
			b.WriteString(m.theme.Highlight.Render(line) + "\n")
		} else {
			b.WriteString(m.theme.Text.Render(line) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderSearch() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Search") + "\n")
	b.WriteString("  " + m.searchInput.View() + "\n\n")
	if m.typing {
		b.WriteString(m.theme.Dim.Render("  enter: search · esc: browse results") + "\n")
		return b.String()
	}
	b.WriteString(m.renderSongListBody(m.searchResults))
	return b.String()
}

func (m Model) renderSongListBody(songs []library.Song) string {
	var b strings.Builder
	for i, s := range songs {
		prefix := "  "
		if i == m.selection {
			prefix = "⏵ "
		}
		b.WriteString(prefix + m.theme.Text.Render(fmt.Sprintf("%s — %s", s.Artist, s.Title)) + "\n")
	}
	if len(songs) == 0 {
		b.WriteString(m.theme.Dim.Render("  (no results)") + "\n")
	}
	return b.String()
}

func (m Model) renderPlaylists() string {
	var b strings.Builder
	if m.openPlaylist != nil {
		b.WriteString(m.theme.Title.Render("Playlist: "+m.openPlaylist.Name) + "\n")
		b.WriteString(m.renderSongListBody(m.playlistSongs))
		b.WriteString("\n" + m.theme.Dim.Render("  enter: play · d: remove song · esc: back") + "\n")
		return b.String()
	}
	b.WriteString(m.theme.Title.Render("Playlists") + "\n")
	if m.typing {
		b.WriteString("  " + m.listInput.View() + "\n")
	}
	for i, p := range m.playlists {
		prefix := "  "
		if i == m.selection {
			prefix = "⏵ "
		}
		b.WriteString(prefix + m.theme.Text.Render(p.Name) + "\n")
	}
	if len(m.playlists) == 0 {
		b.WriteString(m.theme.Dim.Render("  (no playlists)") + "\n")
	}
	b.WriteString("\n" + m.theme.Dim.Render("  enter: open · N: new playlist · d: delete") + "\n")
	return b.String()
}

func (m Model) renderUpload() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Upload") + "\n")
	b.WriteString("  " + m.pathInput.View() + "\n\n")
	for i, c := range m.candidates {
		prefix := "  "
		if i == m.selection {
			prefix = "⏵ "
		}
		status := string(c.Status)
		switch c.Status {
		case upload.StatusSuccess:
			status = m.theme.Success.Render("✓ uploaded")
		case upload.StatusSkipped:
			status = m.theme.Warning.Render("↷ skipped")
		case upload.StatusError:
			status = m.theme.Error.Render("✗ " + c.Err)
		case upload.StatusProcessing:
			status = m.theme.Accent.Render(fmt.Sprintf("… %d%%", c.Progress))
		}
		b.WriteString(fmt.Sprintf("%s%s — %s  %s\n", prefix, c.Artist, c.Title, status))
	}
	if len(m.candidates) == 0 {
		b.WriteString(m.theme.Dim.Render("  (nothing staged)") + "\n")
	}
	if m.report != nil {
		b.WriteString("\n" + m.theme.Accent.Render(m.report.String()) + "\n")
	}
	b.WriteString("\n" + m.theme.Dim.Render("  i: enter path · U: upload all · d: remove · c: clear") + "\n")
	return b.String()
}

func (m Model) renderNowPlaying() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Now Playing") + "\n\n")

	song := m.playback.Song
	if song.ID == "" {
		b.WriteString(m.theme.Dim.Render("Nothing playing") + "\n")
		return b.String()
	}

	if m.artANSI != "" {
		b.WriteString(m.artANSI + "\n")
	}
	b.WriteString(m.theme.Accent.Render(song.Title) + "\n")
	b.WriteString(m.theme.Text.Render(song.Artist) + "\n")
	if song.Album != "" {
		b.WriteString(m.theme.Dim.Render(song.Album) + "\n")
	}
	if m.playback.State == player.StateLoading {
		b.WriteString("\n" + m.theme.Dim.Render("Loading…") + "\n")
		return b.String()
	}
	b.WriteString("\n")

	width := m.width - 4
	if width < 10 {
		width = 10
	}
	filled := int(float64(width) * m.playback.ProgressPercent / 100)
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("━", filled) + strings.Repeat("─", width-filled)
	b.WriteString(m.theme.Highlight.Render(bar) + "\n")

	pos := int(m.playback.PositionSeconds)
	dur := int(m.playback.DurationSeconds)
	b.WriteString(m.theme.Dim.Render(fmt.Sprintf("%d:%02d / %d:%02d", pos/60, pos%60, dur/60, dur%60)) + "\n")
	return b.String()
}

func (m Model) renderQueue() string {
	var b strings.Builder
	items := m.queue.Items()
	currentIdx := m.queue.CurrentIndex()
	b.WriteString(m.theme.Title.Render("Queue") + "\n")
	for i, s := range items {
		prefix := "   "
		if i == currentIdx {
			prefix = "🔊 "
		}
		if i == m.selection {
			if i == currentIdx {
				prefix = "⏵🔊"
			} else {
				prefix = "⏵  "
			}
		}
		b.WriteString(prefix + fmt.Sprintf("%d. %s — %s\n", i+1, s.Artist, s.Title))
	}
	if len(items) == 0 {
		b.WriteString(m.theme.Dim.Render("  (empty)") + "\n")
	}
	return b.String()
}

func (m Model) renderProfile() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Profile") + "\n\n")
	if m.user == nil {
		b.WriteString(m.theme.Dim.Render("  Not signed in") + "\n")
		return b.String()
	}
	b.WriteString("  " + m.theme.Text.Render("Name:   "+displayName(*m.user)) + "\n")
	b.WriteString("  " + m.theme.Text.Render("Email:  "+m.user.Email) + "\n")
	avatar := "(none)"
	if m.user.AvatarURL != "" {
		avatar = m.user.AvatarURL
	}
	b.WriteString("  " + m.theme.Dim.Render("Avatar: "+avatar) + "\n\n")
	switch m.profileEdit {
	case profileFieldName:
		b.WriteString("  " + m.nameInput.View() + "\n")
		b.WriteString(m.theme.Dim.Render("  enter: save name · esc: cancel") + "\n")
	case profileFieldPassword:
		b.WriteString("  " + m.passwordInput.View() + "\n")
		b.WriteString(m.theme.Dim.Render("  enter: change password · esc: cancel") + "\n")
	case profileFieldAvatar:
		b.WriteString("  " + m.avatarInput.View() + "\n")
		b.WriteString(m.theme.Dim.Render("  enter: upload avatar · esc: cancel") + "\n")
	default:
		b.WriteString(m.theme.Dim.Render("  e: edit name · w: change password · a: set avatar · x: remove avatar") + "\n")
	}
	return b.String()
}

func (m Model) renderHelp() string {
	lines := []string{
		m.theme.Title.Render("Help"),
		"",
		m.theme.Accent.Render("Global"),
		"  tab/shift+tab : Switch screens",
		"  ?             : Toggle help",
		"  ctrl+o        : Sign out",
		"  q / ctrl+c    : Quit",
		"",
		m.theme.Accent.Render("Player"),
		"  space         : Play/Pause",
		"  n / p         : Next / Previous song",
		"  h / l         : Seek -5% / +5%",
		"  - / +         : Volume down / up",
		"  s             : Toggle shuffle",
		"",
		m.theme.Accent.Render("Library"),
		"  j / k         : Move selection",
		"  enter         : Play selected",
		"  L             : Like / unlike",
		"  A             : Add to open playlist",
		"  D             : Delete own song",
		"",
		m.theme.Accent.Render("Search / Upload"),
		"  /             : Search",
		"  u             : Upload screen",
		"  i             : Enter upload path",
		"  U             : Start upload",
		"",
		m.theme.Accent.Render("Queue"),
		"  d             : Remove item",
		"  J / K         : Move item down / up",
		"",
		m.theme.Accent.Render("Profile"),
		"  e             : Edit name",
		"  w             : Change password",
		"  a / x         : Set / remove avatar",
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPlayerBar() string {
	song := m.playback.Song
	name := "(stopped)"
	if song.ID != "" {
		name = fmt.Sprintf("%s — %s", song.Artist, song.Title)
	}
	state := "⏵"
	switch m.playback.State {
	case player.StatePaused:
		state = "⏸"
	case player.StateLoading:
		state = "…"
	case player.StateIdle:
		state = "■"
	}
	progress := ""
	if m.playback.DurationSeconds > 0 {
		progress = fmt.Sprintf(" %.0f%%", m.playback.ProgressPercent)
	}
	shuffle := ""
	if m.queue.IsShuffled() {
		shuffle = " 🔀"
	}
	volStr := fmt.Sprintf("Vol: %.0f%%", m.playback.Volume*100)
	return fmt.Sprintf("%s %s%s  %s%s", state, name, progress, volStr, shuffle)
}

func (m Model) screenTitle() string {
	switch m.screen {
	case screenLogin:
		return "Sign In"
	case screenSignup:
		return "Sign Up"
	case screenVerify:
		return "Verify"
	case screenLibrary:
		return "Library"
	case screenSearch:
		return "Search"
	case screenLiked:
		return "Liked"
	case screenPlaylists:
		return "Playlists"
	case screenUpload:
		return "Upload"
	case screenNowPlaying:
		return "Now Playing"
	case screenQueue:
		return "Queue"
	case screenProfile:
		return "Profile"
	default:
		return ""
	}
}

func displayName(u library.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
