package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcast/pkg/types"
)

func TestStore_SessionRules(t *testing.T) {
	store := New()
	ctx := context.Background()

	s1 := &types.ClassroomSession{ID: "s1", TeacherID: "t1", Status: types.StatusActive, StartTime: time.Now()}
	require.NoError(t, store.CreateSession(ctx, s1))

	var conflict *types.ConflictError
	err := store.CreateSession(ctx, &types.ClassroomSession{ID: "s2", TeacherID: "t1", Status: types.StatusActive})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "s1", conflict.ExistingSessionID)

	// Mutating the caller's copy does not leak into the store
	s1.Status = types.StatusEnded
	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)

	_, err = store.GetSession(ctx, "missing")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStore_TranscriptsAndTranslations(t *testing.T) {
	store := New()
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, &types.ClassroomSession{ID: "s1", TeacherID: "t1", Status: types.StatusActive}))

	for i := 0; i < 4; i++ {
		seg := &types.TranscriptSegment{ID: string(rune('a' + i)), SessionID: "s1", OriginalText: "x", Language: "hi"}
		require.NoError(t, store.AppendTranscript(ctx, seg))
		assert.Equal(t, int64(i+1), seg.Sequence)
	}

	require.NoError(t, store.SaveTranslation(ctx, &types.TranslationRecord{TranscriptID: "b", Language: "en", TranslatedText: "one"}))
	require.NoError(t, store.SaveTranslation(ctx, &types.TranslationRecord{TranscriptID: "b", Language: "en", TranslatedText: "two"}))

	page, err := store.ListTranscripts(ctx, "s1", types.TranscriptPage{AfterSequence: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "two", page[0].Translations["en"])
	assert.Equal(t, int64(3), page[1].Sequence)

	recent, err := store.RecentTranscripts(ctx, "s1", 10)
	require.NoError(t, err)
	assert.Len(t, recent, 4)

	assert.True(t, errors.Is(store.SaveTranslation(ctx, &types.TranslationRecord{TranscriptID: "zz"}), types.ErrNotFound))
	assert.True(t, errors.Is(store.AppendTranscript(ctx, &types.TranscriptSegment{SessionID: "nope"}), types.ErrNotFound))
}
