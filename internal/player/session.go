package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tuneverse/tuneverse/internal/library"
	"github.com/tuneverse/tuneverse/internal/queue"
)

// State is the playback lifecycle state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Update is a snapshot of the session published to subscribers.
type Update struct {
	State           State
	Song            library.Song
	PositionSeconds float64
	DurationSeconds float64
	ProgressPercent float64
	Volume          float64
	Err             error
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Sink          Sink
	Queue         *queue.Queue
	Logger        *slog.Logger
	InitialVolume float64 // 0..1
	LoadTimeout   time.Duration
}

// Session is the playback state machine. It drives a Sink, tracks the
// current song and position, and navigates the queue. All methods are
// safe for concurrent use.
type Session struct {
	sink    Sink
	queue   *queue.Queue
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	state    State
	song     library.Song
	position float64
	duration float64
	volume   float64
	loadGen  int
	lastErr  error

	updates chan Update
	done    chan struct{}
	once    sync.Once
}

func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 15 * time.Second
	}
	vol := opts.InitialVolume
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	return &Session{
		sink:    opts.Sink,
		queue:   opts.Queue,
		logger:  opts.Logger,
		timeout: opts.LoadTimeout,
		volume:  vol,
		updates: make(chan Update, 32),
		done:    make(chan struct{}),
	}
}

// Start connects the sink and begins consuming its events. The progress
// ticker publishes a snapshot every second while a song is playing.
func (s *Session) Start(ctx context.Context) error {
	if err := s.sink.Start(ctx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}
	if err := s.sink.SetVolume(s.volume * 100); err != nil {
		s.logger.Warn("set initial volume", slog.Any("err", err))
	}
	go s.run()
	return nil
}

// Updates returns the channel of session snapshots.
func (s *Session) Updates() <-chan Update { return s.updates }

// Snapshot returns the current session state.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Update {
	return Update{
		State:           s.state,
		Song:            s.song,
		PositionSeconds: s.position,
		DurationSeconds: s.duration,
		ProgressPercent: progressPercent(s.position, s.duration),
		Volume:          s.volume,
		Err:             s.lastErr,
	}
}

func progressPercent(position, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	p := position / duration * 100
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return p
}

// Play starts the given song. Playing the song that is already current
// resumes it when paused and is a no-op when it is already playing or
// still loading.
func (s *Session) Play(song library.Song) error {
	s.mu.Lock()
	if s.song.ID == song.ID && song.ID != "" {
		switch s.state {
		case StatePaused:
			s.mu.Unlock()
			return s.Resume()
		case StatePlaying, StateLoading:
			s.mu.Unlock()
			return nil
		}
	}

	s.song = song
	s.state = StateLoading
	s.position = 0
	s.duration = float64(song.DurationSeconds)
	s.lastErr = nil
	s.loadGen++
	gen := s.loadGen
	s.publishLocked()
	s.mu.Unlock()

	if err := s.sink.Load(song.AudioURL); err != nil {
		s.failLoad(gen, fmt.Errorf("load song: %w", err))
		return err
	}
	if err := s.sink.SetPaused(false); err != nil {
		s.logger.Warn("unpause after load", slog.Any("err", err))
	}

	time.AfterFunc(s.timeout, func() { s.loadTimedOut(gen) })
	return nil
}

// A load that never produces a position or duration event is abandoned
// so the session cannot sit in Loading forever.
func (s *Session) loadTimedOut(gen int) {
	s.failLoad(gen, fmt.Errorf("song did not start within %s", s.timeout))
}

func (s *Session) failLoad(gen int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadGen != gen || s.state != StateLoading {
		return
	}
	s.logger.Error("playback load failed", slog.String("song_id", s.song.ID), slog.Any("err", err))
	s.state = StateIdle
	s.lastErr = err
	s.publishLocked()
}

// Pause pauses playback. It is a no-op unless a song is playing.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return nil
	}
	s.state = StatePaused
	s.publishLocked()
	s.mu.Unlock()
	return s.sink.SetPaused(true)
}

// Resume resumes paused playback. It is a no-op unless paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return nil
	}
	s.state = StatePlaying
	s.publishLocked()
	s.mu.Unlock()
	return s.sink.SetPaused(false)
}

// TogglePause flips between playing and paused.
func (s *Session) TogglePause() error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	switch state {
	case StatePlaying:
		return s.Pause()
	case StatePaused:
		return s.Resume()
	}
	return nil
}

// Seek jumps to a position given as a percentage of the song duration.
// Values outside [0, 100] are clamped. It applies whether playing or
// paused; with no loaded song it is a no-op.
func (s *Session) Seek(percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	s.mu.Lock()
	if s.duration <= 0 {
		s.mu.Unlock()
		return nil
	}
	seconds := percent / 100 * s.duration
	s.position = seconds
	s.publishLocked()
	s.mu.Unlock()
	return s.sink.SeekTo(seconds)
}

// SetVolume sets the volume on a 0..1 scale, clamping out-of-range values.
func (s *Session) SetVolume(vol float64) error {
	if vol < 0 {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	s.mu.Lock()
	s.volume = vol
	s.publishLocked()
	s.mu.Unlock()
	return s.sink.SetVolume(vol * 100)
}

// Volume returns the current volume on a 0..1 scale.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Next plays the next song in the queue, wrapping to the first past the
// end. With an empty queue it is a no-op.
func (s *Session) Next() error {
	song, err := s.queue.Next()
	if err != nil {
		return nil
	}
	return s.Play(song)
}

// Previous plays the previous song in the queue, wrapping to the last
// before the first. With an empty queue it is a no-op.
func (s *Session) Previous() error {
	song, err := s.queue.Prev()
	if err != nil {
		return nil
	}
	return s.Play(song)
}

// Stop shuts down the session and the sink.
func (s *Session) Stop() error {
	s.once.Do(func() { close(s.done) })
	return s.sink.Stop()
}

func (s *Session) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	events := s.sink.Events()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == StatePlaying {
				s.publishLocked()
			}
			s.mu.Unlock()
		case evt, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(evt)
		}
	}
}

func (s *Session) handleEvent(evt Event) {
	if evt.Err != nil {
		s.logger.Warn("sink event error", slog.Any("err", evt.Err))
		return
	}
	if evt.Ended {
		if err := s.Next(); err != nil {
			s.logger.Error("advance after song end", slog.Any("err", err))
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	if evt.TimePos != nil {
		s.position = *evt.TimePos
		changed = true
	}
	if evt.Duration != nil && *evt.Duration > 0 {
		s.duration = *evt.Duration
		changed = true
	}
	if (evt.TimePos != nil || evt.Duration != nil) && s.state == StateLoading {
		// First position report means the stream actually started.
		s.state = StatePlaying
		s.lastErr = nil
		changed = true
	}
	if evt.Paused != nil && (s.state == StatePlaying || s.state == StatePaused) {
		if *evt.Paused {
			s.state = StatePaused
		} else {
			s.state = StatePlaying
		}
		changed = true
	}
	if changed {
		s.publishLocked()
	}
}

// publishLocked pushes a snapshot without blocking; slow consumers drop
// intermediate updates.
func (s *Session) publishLocked() {
	select {
	case s.updates <- s.snapshotLocked():
	default:
	}
}
