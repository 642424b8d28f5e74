package memory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCommitPostsRecordedOperations(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(NewClient(srv.URL, "", testMemoryLogger(t)), testMemoryLogger(t))
	handle := r.StartAttempt(t.Context(), "task-1", "sub-1")

	session, ok := handle.(*Session)
	require.True(t, ok)
	session.Record("visit", "homepage", nil)
	session.Record("click", "checkout", map[string]interface{}{"ref": "e1"})

	require.NoError(t, handle.Commit(t.Context()))
	assert.Equal(t, "task-1_sub-1", gotBody["session_id"])
	assert.Equal(t, true, gotBody["skip_cognitive_phrase"])
	assert.NotEmpty(t, gotBody["operations"])
}

func TestRecorderDiscardDropsRecordedOperations(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(NewClient(srv.URL, "", testMemoryLogger(t)), testMemoryLogger(t))
	handle := r.StartAttempt(t.Context(), "task-1", "sub-1")

	session := handle.(*Session)
	session.Record("visit", "homepage", nil)
	handle.Discard()

	require.NoError(t, handle.Commit(t.Context()))
	assert.Equal(t, 0, calls, "Commit after Discard should post nothing")
}

func TestRecorderCommitWithNoOperationsSkipsRequest(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder(NewClient(srv.URL, "", testMemoryLogger(t)), testMemoryLogger(t))
	handle := r.StartAttempt(t.Context(), "task-1", "sub-2")

	require.NoError(t, handle.Commit(t.Context()))
	assert.Equal(t, 0, calls)
}
