package translation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcast/internal/database/memstore"
	"classcast/pkg/types"
)

type stubTranslator struct {
	fn func(ctx context.Context, text, source, target string) (string, error)
}

func (s stubTranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	return s.fn(ctx, text, source, target)
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []*types.TranslationUpdateEvent
}

func (b *recordingBroadcaster) Broadcast(sessionID string, event interface{}) int {
	if u, ok := event.(*types.TranslationUpdateEvent); ok {
		b.mu.Lock()
		b.updates = append(b.updates, u)
		b.mu.Unlock()
	}
	return 1
}

func (b *recordingBroadcaster) byLanguage() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string)
	for _, u := range b.updates {
		out[u.Language] = u.TranslatedText
	}
	return out
}

func setupSegment(t *testing.T, targets ...string) (*memstore.Store, *types.ClassroomSession, *types.TranscriptSegment) {
	t.Helper()
	store := memstore.New()
	ctx := context.Background()
	session := &types.ClassroomSession{
		ID:              "s1",
		TeacherID:       "teacher_1",
		SourceLanguage:  "hi",
		TargetLanguages: types.LanguageList(targets),
		Status:          types.StatusActive,
	}
	require.NoError(t, store.CreateSession(ctx, session))
	seg := &types.TranscriptSegment{ID: "t1", SessionID: "s1", OriginalText: "नमस्ते", Language: "hi"}
	require.NoError(t, store.AppendTranscript(ctx, seg))
	return store, session, seg
}

func TestWorker_HindiToEnglish(t *testing.T) {
	store, session, seg := setupSegment(t, "en")
	b := &recordingBroadcaster{}
	translator := stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		if text == "नमस्ते" && source == "hi" && target == "en" {
			return "Hello", nil
		}
		return "", errors.New("unexpected input")
	}}

	worker := NewWorker(translator, store, b, DefaultConfig(), nil, nil)
	worker.Submit(session, seg)
	worker.Wait()

	require.Len(t, b.updates, 1)
	assert.Equal(t, &types.TranslationUpdateEvent{
		Type: types.EventTranslationUpdate, TranscriptID: "t1", Language: "en", TranslatedText: "Hello",
	}, b.updates[0])

	views, err := store.ListTranscripts(context.Background(), "s1", types.TranscriptPage{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, map[string]string{"hi": "नमस्ते", "en": "Hello"}, views[0].Translations)
}

func TestWorker_FailureIsolation(t *testing.T) {
	store, session, seg := setupSegment(t, "en", "ta", "fr", "hi")
	b := &recordingBroadcaster{}
	var calls int32
	translator := stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		atomic.AddInt32(&calls, 1)
		if target == "ta" {
			return "", errors.New("engine unavailable")
		}
		return target + ":" + text, nil
	}}

	worker := NewWorker(translator, store, b, DefaultConfig(), nil, nil)
	worker.Submit(session, seg)
	worker.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "source language is never translated")
	got := b.byLanguage()
	assert.Len(t, got, 2)
	assert.Equal(t, "en:नमस्ते", got["en"])
	assert.Equal(t, "fr:नमस्ते", got["fr"])
	_, failed := got["ta"]
	assert.False(t, failed)

	views, _ := store.ListTranscripts(context.Background(), "s1", types.TranscriptPage{})
	assert.Len(t, views[0].Translations, 3, "identity + two successful translations")
}

func TestWorker_NoTargets(t *testing.T) {
	store, session, seg := setupSegment(t, "hi")
	worker := NewWorker(stubTranslator{fn: func(context.Context, string, string, string) (string, error) {
		t.Error("translator must not be called")
		return "", nil
	}}, store, &recordingBroadcaster{}, DefaultConfig(), nil, nil)

	worker.Submit(session, seg)
	worker.Wait()
}

func TestWorker_ConcurrencyLimit(t *testing.T) {
	store, session, seg := setupSegment(t, "en", "ta", "fr", "de", "es", "bn")
	var current, peak int32
	translator := stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return text, nil
	}}

	b := &recordingBroadcaster{}
	worker := NewWorker(translator, store, b, Config{Concurrency: 2, Timeout: time.Second}, nil, nil)
	worker.Submit(session, seg)
	worker.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Len(t, b.byLanguage(), 6)
}

func TestWorker_TimeoutIsAFailure(t *testing.T) {
	store, session, seg := setupSegment(t, "en")
	b := &recordingBroadcaster{}
	translator := stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}

	worker := NewWorker(translator, store, b, Config{Concurrency: 1, Timeout: 20 * time.Millisecond}, nil, nil)
	worker.Submit(session, seg)
	worker.Wait()

	assert.Empty(t, b.byLanguage())
}

func TestWorker_CancelSessionStopsBroadcasts(t *testing.T) {
	store, session, seg := setupSegment(t, "en", "ta")
	b := &recordingBroadcaster{}
	started := make(chan struct{}, 2)
	translator := stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", ctx.Err()
	}}

	worker := NewWorker(translator, store, b, DefaultConfig(), nil, nil)
	worker.Submit(session, seg)
	<-started
	<-started

	worker.CancelSession(session.ID)
	worker.Wait()

	assert.Empty(t, b.byLanguage())
	views, _ := store.ListTranscripts(context.Background(), "s1", types.TranscriptPage{})
	assert.Len(t, views[0].Translations, 1, "nothing persisted after cancel")

	// Cancelling an unknown session is a no-op
	worker.CancelSession("unknown")
}

func TestWorker_StopRefusesNewWork(t *testing.T) {
	store, session, seg := setupSegment(t, "en")
	var calls int32
	worker := NewWorker(stubTranslator{fn: func(ctx context.Context, text, source, target string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return text, nil
	}}, store, &recordingBroadcaster{}, DefaultConfig(), nil, nil)

	worker.Stop()
	worker.Submit(session, seg)
	worker.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
