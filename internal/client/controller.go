package client

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"classcast/internal/logging"
	"classcast/pkg/types"
)

// ErrReconnectFailed is returned by Run once every reconnect attempt failed
var ErrReconnectFailed = errors.New("reconnect attempts exhausted")

// Config identifies the client and the server it talks to
type Config struct {
	// ServerURL is the http(s) base URL of the service
	ServerURL string
	SessionID string
	UserID    string
	Role      string
	Name      string
	// Language is the initial viewing language
	Language string

	MaxAttempts int
	BaseDelay   time.Duration
}

// SessionInfo is the metadata of the connected handshake
type SessionInfo struct {
	SessionID        string
	Role             string
	TeacherName      string
	SourceLanguage   string
	TargetLanguages  []string
	ParticipantCount int
}

// Line is one received transcript with every translation known so far
type Line struct {
	ID           string
	Sequence     int64
	OriginalText string
	Language     string
	Confidence   *float64
	Timestamp    time.Time
	Translations map[string]string
}

// RenderedLine is a transcript as shown in the viewing language
type RenderedLine struct {
	ID       string
	Sequence int64
	Text     string
	Language string
	// Fallback is set when the viewing language has no translation yet
	Fallback bool
}

// Option customizes a Controller
type Option func(*Controller)

// WithDialer replaces the gorilla/websocket dialer
func WithDialer(d Dialer) Option { return func(c *Controller) { c.dialer = d } }

// WithSleep replaces the backoff sleep
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithHTTPClient sets the client used for transcript submission
func WithHTTPClient(hc *http.Client) Option { return func(c *Controller) { c.http = hc } }

// WithLogger sets the logger
func WithLogger(l logging.Logger) Option { return func(c *Controller) { c.logger = logging.OrNop(l) } }

// OnStateChange registers a callback for every state change
func OnStateChange(fn func(from, to State)) Option {
	return func(c *Controller) { c.onStateChange = fn }
}

// OnEvent registers a callback invoked after each inbound event is applied
func OnEvent(fn func(*types.Envelope)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// Controller keeps one client's push channel alive and folds its events into
// local state. Run drives the channel; the accessors are safe from any goroutine.
type Controller struct {
	cfg    Config
	dialer Dialer
	sleep  func(ctx context.Context, d time.Duration) error
	http   *http.Client
	logger logging.Logger

	onStateChange func(from, to State)
	onEvent       func(*types.Envelope)

	mu              sync.Mutex
	state           State
	viewingLang     string
	info            SessionInfo
	lines           map[string]*Line
	pending         map[string]map[string]string // translations that arrived before their transcript
	presence        map[string]types.Participant
	historyComplete bool
	ended           bool
}

// New creates a disconnected controller
func New(cfg Config, opts ...Option) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	cfg.Language = types.NormalizeLanguage(cfg.Language)

	c := &Controller{
		cfg:         cfg,
		dialer:      NewWSDialer(),
		sleep:       sleepContext,
		http:        &http.Client{Timeout: 15 * time.Second},
		logger:      logging.Nop{},
		state:       StateDisconnected,
		viewingLang: cfg.Language,
		lines:       make(map[string]*Line),
		pending:     make(map[string]map[string]string),
		presence:    make(map[string]types.Participant),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// channelURL builds the push channel URL with the current viewing language
func (c *Controller) channelURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid server URL")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	query := u.Query()
	query.Set("session_id", c.cfg.SessionID)
	query.Set("role", c.cfg.Role)
	query.Set("user_id", c.cfg.UserID)
	if c.cfg.Name != "" {
		query.Set("name", c.cfg.Name)
	}
	if lang := c.ViewingLanguage(); lang != "" {
		query.Set("lang", lang)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Run connects and keeps the channel open until ctx is cancelled or the
// session ends, reconnecting with exponential backoff after a drop. It returns
// ErrReconnectFailed after MaxAttempts failed reconnects, leaving the
// controller in StateError.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.beginConnect(); err != nil {
		return err
	}
	target, err := c.channelURL()
	if err != nil {
		c.retriesExhausted()
		return err
	}

	attempt := 0
	for {
		stream, err := c.dialer.Dial(ctx, target)
		if err == nil {
			attempt = 0
			c.connectionEstablished()
			ended, readErr := c.consume(ctx, stream)
			_ = stream.Close()
			if ended {
				c.disconnected()
				return nil
			}
			err = readErr
		}

		if ctx.Err() != nil {
			c.disconnected()
			return nil
		}
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			// the session is gone or the request is invalid; retrying cannot help
			c.logger.Warn("push channel rejected", err, map[string]interface{}{"session_id": c.cfg.SessionID})
			c.retriesExhausted()
			return err
		}
		if attempt >= c.cfg.MaxAttempts {
			c.logger.Error("push channel lost", err, map[string]interface{}{
				"session_id": c.cfg.SessionID,
				"attempts":   attempt,
			})
			c.retriesExhausted()
			return ErrReconnectFailed
		}

		attempt++
		if err := c.connectionLost(); err != nil {
			return err
		}
		delay := backoff(c.cfg.BaseDelay, attempt)
		c.logger.Info("reconnecting", map[string]interface{}{
			"session_id": c.cfg.SessionID,
			"attempt":    attempt,
			"delay":      delay.String(),
		})
		if err := c.sleep(ctx, delay); err != nil {
			c.disconnected()
			return nil
		}

		// the viewing language may have changed during the outage
		if target, err = c.channelURL(); err != nil {
			c.retriesExhausted()
			return err
		}
	}
}

// Retry re-arms a controller that gave up reconnecting
func (c *Controller) Retry(ctx context.Context) error {
	if s := c.State(); s != StateError {
		return &TransitionError{From: s, To: StateConnecting}
	}
	return c.Run(ctx)
}

// consume applies events until the stream fails or the session ends
func (c *Controller) consume(ctx context.Context, stream Stream) (bool, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()

	for {
		env, err := stream.ReadEvent()
		if err != nil {
			return false, err
		}
		c.dispatch(env)
		if env.Type == types.EventSessionEnded {
			return true, nil
		}
	}
}

// dispatch folds one inbound event into local state
func (c *Controller) dispatch(env *types.Envelope) {
	c.mu.Lock()
	switch env.Type {
	case types.EventConnected:
		c.info = SessionInfo{
			SessionID:        env.SessionID,
			Role:             env.Role,
			TeacherName:      env.TeacherName,
			SourceLanguage:   env.SourceLanguage,
			TargetLanguages:  append([]string(nil), env.TargetLanguages...),
			ParticipantCount: env.ParticipantCount,
		}
		// a fresh handshake starts a fresh replay and presence picture
		c.historyComplete = false
		c.presence = make(map[string]types.Participant)
	case types.EventTranscript:
		c.applyTranscript(env)
	case types.EventTranslationUpdate:
		c.applyTranslation(env.TranscriptID, env.Language, env.TranslatedText)
	case types.EventParticipantJoined:
		c.presence[env.StudentID] = types.Participant{
			SessionID:     c.info.SessionID,
			StudentID:     env.StudentID,
			Name:          env.Name,
			PreferredLang: env.PreferredLang,
			JoinedAt:      time.Now().UTC(),
		}
	case types.EventParticipantLeft:
		delete(c.presence, env.StudentID)
	case types.EventHistoryComplete:
		c.historyComplete = true
	case types.EventSessionEnded:
		c.ended = true
	case types.EventPing:
	default:
		c.logger.Debug("ignoring unknown event", map[string]interface{}{"type": env.Type})
	}
	hook := c.onEvent
	c.mu.Unlock()

	if hook != nil {
		hook(env)
	}
}

// applyTranscript stores a transcript once per id; replays after a reconnect
// only add translations the client has not seen
func (c *Controller) applyTranscript(env *types.Envelope) {
	line, ok := c.lines[env.ID]
	if !ok {
		line = &Line{
			ID:           env.ID,
			Sequence:     env.Sequence,
			OriginalText: env.OriginalText,
			Language:     env.Language,
			Confidence:   env.Confidence,
			Timestamp:    env.Timestamp,
			Translations: map[string]string{env.Language: env.OriginalText},
		}
		c.lines[env.ID] = line
	}
	for lang, text := range env.Translations {
		line.Translations[lang] = text
	}
	for lang, text := range c.pending[env.ID] {
		line.Translations[lang] = text
	}
	delete(c.pending, env.ID)
}

func (c *Controller) applyTranslation(transcriptID, lang, text string) {
	if line, ok := c.lines[transcriptID]; ok {
		line.Translations[lang] = text
		return
	}
	if c.pending[transcriptID] == nil {
		c.pending[transcriptID] = make(map[string]string)
	}
	c.pending[transcriptID][lang] = text
}

// SetViewingLanguage switches the rendering language without touching the network
func (c *Controller) SetViewingLanguage(lang string) error {
	lang = types.NormalizeLanguage(lang)
	if !types.IsValidLanguage(lang) {
		return types.ErrInvalidLanguage
	}
	c.mu.Lock()
	c.viewingLang = lang
	c.mu.Unlock()
	return nil
}

// ViewingLanguage returns the current rendering language
func (c *Controller) ViewingLanguage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewingLang
}

// Rendered returns the received transcripts in sequence order in the viewing
// language, falling back to the original text where no translation exists yet
func (c *Controller) Rendered() []RenderedLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RenderedLine, 0, len(c.lines))
	for _, line := range c.lines {
		r := RenderedLine{ID: line.ID, Sequence: line.Sequence}
		if text, ok := line.Translations[c.viewingLang]; ok && c.viewingLang != "" {
			r.Text, r.Language = text, c.viewingLang
		} else {
			r.Text, r.Language, r.Fallback = line.OriginalText, line.Language, true
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Lines returns copies of the received transcripts in sequence order
func (c *Controller) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Line, 0, len(c.lines))
	for _, line := range c.lines {
		cp := *line
		cp.Translations = make(map[string]string, len(line.Translations))
		for k, v := range line.Translations {
			cp.Translations[k] = v
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Session returns the metadata of the latest handshake
func (c *Controller) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Participants returns the students seen joining since the latest handshake
func (c *Controller) Participants() []types.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]types.Participant, 0, len(c.presence))
	for _, p := range c.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// HistoryComplete reports whether the catch-up replay of the current channel finished
func (c *Controller) HistoryComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyComplete
}

// Ended reports whether the server announced the end of the session
func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}
