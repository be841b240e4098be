package translation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"classcast/internal/logging"
	"classcast/internal/metrics"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// Config bounds the fan-out
type Config struct {
	// Concurrency caps simultaneous translations per transcript
	Concurrency int
	// Timeout bounds a single translation call
	Timeout time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{Concurrency: 4, Timeout: 10 * time.Second}
}

// sessionScope owns the context every fan-out of one session derives from.
// Broadcasts hold mu for reading so that CancelSession, which takes it for
// writing, returns only once no broadcast can follow.
type sessionScope struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// Worker translates each transcript into the session's target languages,
// persisting and broadcasting every result independently
type Worker struct {
	translator  interfaces.Translator
	store       interfaces.Store
	broadcaster interfaces.Broadcaster
	logger      logging.Logger
	metrics     *metrics.Metrics
	config      Config

	root   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	scopes map[string]*sessionScope
	wg     sync.WaitGroup
}

// NewWorker creates a fan-out worker
func NewWorker(translator interfaces.Translator, store interfaces.Store, broadcaster interfaces.Broadcaster, config Config, logger logging.Logger, m *metrics.Metrics) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	root, stop := context.WithCancel(context.Background())
	return &Worker{
		translator:  translator,
		store:       store,
		broadcaster: broadcaster,
		logger:      logging.OrNop(logger),
		metrics:     m,
		config:      config,
		root:        root,
		stop:        stop,
		scopes:      make(map[string]*sessionScope),
	}
}

// Submit starts translating segment into the session's targets and returns
// immediately. The source language is never a target.
func (w *Worker) Submit(session *types.ClassroomSession, segment *types.TranscriptSegment) {
	targets := session.FanOutTargets(segment.Language)
	if len(targets) == 0 {
		return
	}

	scope := w.acquire(session.ID)
	if scope == nil {
		return
	}

	seg := *segment
	go func() {
		defer w.wg.Done()
		w.fanOut(scope, &seg, targets)
	}()
}

// acquire returns the session's scope and registers one task with the
// wait group, or nil once the worker is stopped
func (w *Worker) acquire(sessionID string) *sessionScope {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.root.Err() != nil {
		return nil
	}
	scope, ok := w.scopes[sessionID]
	if !ok {
		ctx, cancel := context.WithCancel(w.root)
		scope = &sessionScope{ctx: ctx, cancel: cancel}
		w.scopes[sessionID] = scope
	}
	w.wg.Add(1)
	return scope
}

func (w *Worker) fanOut(scope *sessionScope, segment *types.TranscriptSegment, targets []string) {
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)
	for _, lang := range targets {
		lang := lang
		g.Go(func() error {
			w.translateOne(scope, segment, lang)
			return nil
		})
	}
	_ = g.Wait()
}

// translateOne never fails the group; every outcome is logged and counted
func (w *Worker) translateOne(scope *sessionScope, segment *types.TranscriptSegment, lang string) {
	fields := map[string]interface{}{
		"session_id":    segment.SessionID,
		"transcript_id": segment.ID,
		"language":      lang,
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(scope.ctx, w.config.Timeout)
	text, err := w.translator.Translate(ctx, segment.OriginalText, segment.Language, lang)
	cancel()

	if scope.ctx.Err() != nil {
		w.metrics.Translation(metrics.ResultCanceled, time.Since(start))
		return
	}
	if err != nil {
		w.metrics.Translation(metrics.ResultError, time.Since(start))
		w.logger.Warn("translation failed", errors.Wrap(wrapTranslation(err), lang), fields)
		return
	}

	record := &types.TranslationRecord{
		TranscriptID:   segment.ID,
		Language:       lang,
		TranslatedText: text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.store.SaveTranslation(scope.ctx, record); err != nil {
		if scope.ctx.Err() != nil {
			w.metrics.Translation(metrics.ResultCanceled, time.Since(start))
			return
		}
		w.metrics.Translation(metrics.ResultError, time.Since(start))
		w.logger.Error("failed to persist translation", err, fields)
		return
	}

	scope.mu.RLock()
	defer scope.mu.RUnlock()
	if scope.ctx.Err() != nil {
		w.metrics.Translation(metrics.ResultCanceled, time.Since(start))
		return
	}
	w.broadcaster.Broadcast(segment.SessionID, types.NewTranslationUpdateEvent(record))
	w.metrics.Translation(metrics.ResultOK, time.Since(start))
}

func wrapTranslation(err error) error {
	if errors.Is(err, types.ErrTranslation) {
		return err
	}
	return errors.Wrap(types.ErrTranslation, err.Error())
}

// CancelSession abandons every in-flight translation of the session.
// After it returns no translation_update is broadcast for that session.
func (w *Worker) CancelSession(sessionID string) {
	w.mu.Lock()
	scope, ok := w.scopes[sessionID]
	delete(w.scopes, sessionID)
	w.mu.Unlock()
	if !ok {
		return
	}

	scope.mu.Lock()
	scope.cancel()
	scope.mu.Unlock()
	w.logger.Debug("fan-out cancelled", map[string]interface{}{"session_id": sessionID})
}

// Wait blocks until every submitted fan-out has finished
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Stop cancels all sessions, refuses new work and waits for in-flight tasks
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stop()
	w.scopes = make(map[string]*sessionScope)
	w.mu.Unlock()
	w.wg.Wait()
}
