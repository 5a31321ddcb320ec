package handlers

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kbcurator/backend/internal/storage/models"
	"github.com/kbcurator/backend/internal/storage/sqlite"
)

type fakeProgressConn struct {
	mu       sync.Mutex
	messages []map[string]interface{}
}

func (f *fakeProgressConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := v.(map[string]interface{}); ok {
		f.messages = append(f.messages, m)
	}
	return nil
}

func (f *fakeProgressConn) last() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return nil
	}
	return f.messages[len(f.messages)-1]
}

func newHandlerStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	return store
}

func TestStreamProgressStopsOnDisconnect(t *testing.T) {
	store := newHandlerStore(t)
	h := &WebSocketHandler{store: store, pollInterval: 5 * time.Millisecond}

	// No progress row exists, so the loop idles; a disconnect must
	// still terminate it.
	disconnected := make(chan struct{})
	returned := make(chan struct{})
	go func() {
		h.streamProgress(&fakeProgressConn{}, uuid.NewString(), uuid.NewString(), disconnected)
		close(returned)
	}()

	time.Sleep(25 * time.Millisecond)
	close(disconnected)

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("streamProgress kept running after disconnect")
	}
}

func TestStreamProgressSendsTerminalState(t *testing.T) {
	store := newHandlerStore(t)
	h := &WebSocketHandler{store: store, pollInterval: 5 * time.Millisecond}

	agentID := uuid.NewString()
	profileID := uuid.NewString()
	progress := &models.AnalysisProgress{
		ID:              uuid.NewString(),
		AgentID:         agentID,
		RequirementID:   profileID,
		TotalChunks:     4,
		ChunksProcessed: 4,
		CurrentBatch:    2,
		Status:          models.AnalysisCompleted,
		StartedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := store.UpsertAnalysisProgress(progress); err != nil {
		t.Fatalf("UpsertAnalysisProgress: %v", err)
	}

	conn := &fakeProgressConn{}
	returned := make(chan struct{})
	go func() {
		h.streamProgress(conn, agentID, profileID, make(chan struct{}))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("streamProgress did not terminate on a completed analysis")
	}

	last := conn.last()
	if last == nil || last["type"] != "complete" {
		t.Errorf("last message = %v, want a complete message", last)
	}
}
