package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alimasry/go-collab-session/store"
)

// countingStore counts GetOrCreate calls to the backing store.
type countingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	fetches int
}

func (cs *countingStore) GetOrCreate(ctx context.Context, id string) (*store.Snapshot, error) {
	cs.mu.Lock()
	cs.fetches++
	cs.mu.Unlock()
	return cs.MemoryStore.GetOrCreate(ctx, id)
}

func (cs *countingStore) fetchCount() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.fetches
}

func TestHub_ConcurrentJoinCreatesOneRoom(t *testing.T) {
	cs := &countingStore{MemoryStore: store.NewMemoryStore()}
	hub := NewHub(cs, 0)

	const n = 8
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := hub.JoinOrCreate(ctx(), "fresh-doc", mockClient(fmt.Sprintf("u%d", i)))
			if err != nil {
				t.Errorf("join %d: %v", i, err)
				return
			}
			rooms[i] = r
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatal("concurrent joins produced more than one room")
		}
	}
	if got := cs.fetchCount(); got != 1 {
		t.Errorf("store fetches = %d, want 1", got)
	}
	if got := rooms[0].memberCount(); got != n {
		t.Errorf("member count = %d, want %d", got, n)
	}
}

func TestHub_EvictsEmptyRoom(t *testing.T) {
	cs := &countingStore{MemoryStore: store.NewMemoryStore()}
	hub := NewHub(cs, 0)

	c1 := mockClient("u1")
	c2 := mockClient("u2")
	if _, err := hub.JoinOrCreate(ctx(), "doc1", c1); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.JoinOrCreate(ctx(), "doc1", c2); err != nil {
		t.Fatal(err)
	}

	hub.Leave("doc1", c2)
	if hub.Room("doc1") == nil {
		t.Fatal("room evicted while u1 still joined")
	}

	hub.Leave("doc1", c1)
	if hub.Room("doc1") != nil {
		t.Fatal("room not evicted after last leave")
	}

	// A rejoin builds a fresh room with a fresh fetch.
	if _, err := hub.JoinOrCreate(ctx(), "doc1", mockClient("u3")); err != nil {
		t.Fatal(err)
	}
	if got := cs.fetchCount(); got != 2 {
		t.Errorf("store fetches = %d, want 2", got)
	}
}

func TestHub_RejectsDuplicateMemberID(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), 0)

	c1 := mockClient("u1")
	r, err := hub.JoinOrCreate(ctx(), "doc1", c1)
	if err != nil {
		t.Fatal(err)
	}

	// A second connection claiming the same member ID must not displace the
	// first.
	c2 := mockClient("u1")
	if _, err := hub.JoinOrCreate(ctx(), "doc1", c2); !errors.Is(err, ErrMemberJoined) {
		t.Fatalf("duplicate join err = %v, want ErrMemberJoined", err)
	}
	if got := r.memberCount(); got != 1 {
		t.Errorf("member count = %d, want 1", got)
	}

	// The rejected connection leaving must not disturb the live member's
	// room.
	hub.Leave("doc1", c2)
	if hub.Room("doc1") != r {
		t.Fatal("room evicted while the original connection is still joined")
	}

	hub.Leave("doc1", c1)
	if hub.Room("doc1") != nil {
		t.Fatal("room not evicted after the original connection left")
	}
}

func TestHub_GeneratesDocumentID(t *testing.T) {
	st := store.NewMemoryStore()
	hub := NewHub(st, 0)

	c := mockClient("u1")
	r, err := hub.JoinOrCreate(ctx(), "", c)
	if err != nil {
		t.Fatal(err)
	}
	if r.DocID == "" {
		t.Fatal("no document ID generated")
	}
	if hub.Room(r.DocID) != r {
		t.Error("generated room not registered under its ID")
	}

	snap, err := st.GetOrCreate(ctx(), r.DocID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != store.DefaultTitle {
		t.Errorf("title = %q, want %q", snap.Title, store.DefaultTitle)
	}
}

func TestHub_LeaveUnknownDocIsNoop(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), 0)
	hub.Leave("never-seen", mockClient("u1"))
}

func TestHub_ActiveRooms(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), 0)
	if _, err := hub.JoinOrCreate(ctx(), "doc1", mockClient("u1")); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.JoinOrCreate(ctx(), "doc1", mockClient("u2")); err != nil {
		t.Fatal(err)
	}
	if _, err := hub.JoinOrCreate(ctx(), "doc2", mockClient("u3")); err != nil {
		t.Fatal(err)
	}

	active := hub.ActiveRooms()
	if len(active) != 2 || active["doc1"] != 2 || active["doc2"] != 1 {
		t.Errorf("active rooms = %v, want doc1:2 doc2:1", active)
	}
}
