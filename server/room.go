package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-collab-session/store"
)

// member is the room-side view of one connected client.
type member struct {
	client *Client
	color  string
	cursor *CursorRange
	// announced gates delivery: a member receives no room traffic until its
	// join announcement has been sent, so its document-loaded message always
	// precedes any operation relayed to it.
	announced bool
}

// Room holds the in-memory collaboration state for one document: the
// member set, a cached snapshot answering new joiners, and the save guard.
// All mutations go through the room's own mutex so unrelated documents
// never contend; store I/O always runs outside it.
type Room struct {
	DocID string

	store store.DocumentStore

	loadOnce sync.Once
	loadErr  error

	mu       sync.Mutex
	members  map[string]*member
	snapshot store.Snapshot
	saving   bool
	// pending holds the latest save state that was submitted while a write
	// was in flight, or that failed to write. Non-nil means dirty.
	pending *store.Snapshot
}

func newRoom(docID string, st store.DocumentStore) *Room {
	return &Room{
		DocID:   docID,
		store:   st,
		members: make(map[string]*member),
	}
}

// load fetches the initial snapshot from the store. The fetch happens at
// most once per room lifetime; concurrent first joiners wait for it.
func (r *Room) load(ctx context.Context) error {
	r.loadOnce.Do(func() {
		snap, err := r.store.GetOrCreate(ctx, r.DocID)
		if err != nil {
			r.loadErr = err
			return
		}
		r.mu.Lock()
		r.snapshot = *snap
		r.mu.Unlock()
	})
	return r.loadErr
}

// addMember reserves a seat for a client without announcing it. It reports
// false when the member ID is already taken; a member ID identifies one
// connection at a time.
func (r *Room) addMember(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.members[c.ID]; exists {
		return false
	}
	r.members[c.ID] = &member{client: c, color: c.Color}
	return true
}

// announce marks the member deliverable and, in the same critical section,
// sends it the cached snapshot plus member list and notifies everyone else
// of the membership change. Because broadcasts hold the same mutex, any
// operation processed after this point reaches the member strictly after
// its document-loaded message.
func (r *Room) announce(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[c.ID]
	if !ok {
		return
	}
	m.announced = true

	infos := r.memberInfos()
	c.sendMsg(ServerMessage{
		Type:    MsgDocumentLoaded,
		DocID:   r.DocID,
		Payload: r.snapshot.Payload,
		Title:   r.snapshot.Title,
		Members: infos,
	})
	for id, other := range r.members {
		if id != c.ID && other.announced {
			other.client.sendMsg(ServerMessage{Type: MsgMembersChanged, DocID: r.DocID, Members: infos})
		}
	}
}

// removeMember deletes a client's membership, notifies the remainder, and
// reports whether the room is now empty. A connection that never held the
// seat for its ID cannot remove it.
func (r *Room) removeMember(c *Client) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[c.ID]
	if !ok || m.client != c {
		return len(r.members) == 0
	}
	delete(r.members, c.ID)
	if len(r.members) == 0 {
		return true
	}
	infos := r.memberInfos()
	for _, m := range r.members {
		if m.announced {
			m.client.sendMsg(ServerMessage{Type: MsgMembersChanged, DocID: r.DocID, Members: infos})
		}
	}
	return false
}

// broadcastOperation relays an opaque operation to every member except the
// sender. Holding the mutex across the fan-out means all members observe
// any two operations in the same relative order; per-member delivery is a
// non-blocking channel send, so a slow member never delays the rest.
func (r *Room) broadcastOperation(fromID string, op json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, m := range r.members {
		if id == fromID || !m.announced {
			continue
		}
		m.client.sendMsg(ServerMessage{
			Type:     MsgOperationReceived,
			DocID:    r.DocID,
			Op:       op,
			MemberID: fromID,
		})
	}
}

// updateCursor records a member's selection and relays it to the others.
// An absent range is recorded but never broadcast.
func (r *Room) updateCursor(memberID string, rng *CursorRange, color string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberID]
	if !ok {
		return
	}
	if color != "" {
		m.color = color
	}
	m.cursor = rng
	if rng == nil {
		return
	}
	for id, other := range r.members {
		if id == memberID || !other.announced {
			continue
		}
		other.client.sendMsg(ServerMessage{
			Type:     MsgCursorUpdated,
			DocID:    r.DocID,
			MemberID: memberID,
			Range:    rng,
			Color:    m.color,
		})
	}
}

// updateMemberMeta registers presence metadata for a bound member and
// re-broadcasts the member list.
func (r *Room) updateMemberMeta(memberID, color string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[memberID]
	if !ok {
		return
	}
	if color != "" {
		m.color = color
	}
	infos := r.memberInfos()
	for _, other := range r.members {
		if other.announced {
			other.client.sendMsg(ServerMessage{Type: MsgMembersChanged, DocID: r.DocID, Members: infos})
		}
	}
}

// requestSave records the submitted state and starts a durable write,
// unless one is already in flight, in which case the trigger is coalesced
// and the state is left for a later trigger to pick up. Returns false when
// coalesced. The requester alone is notified of the outcome.
func (r *Room) requestSave(requester *Client, payload json.RawMessage, title string) bool {
	snap := store.Snapshot{Payload: payload, Title: title}

	r.mu.Lock()
	if r.saving {
		r.pending = &snap
		r.mu.Unlock()
		return false
	}
	r.saving = true
	r.pending = nil
	r.mu.Unlock()

	go r.persist(requester, snap)
	return true
}

// flushPending persists the latest coalesced state, if any. This is the
// periodic save trigger; it consults the same in-flight guard as
// requestSave.
func (r *Room) flushPending() {
	r.mu.Lock()
	if r.saving || r.pending == nil {
		r.mu.Unlock()
		return
	}
	snap := *r.pending
	r.pending = nil
	r.saving = true
	r.mu.Unlock()

	go r.persist(nil, snap)
}

// persist runs the store write outside the room's exclusion and settles
// the save flag on completion. On failure the state stays pending so the
// next trigger retries; no retry is scheduled here.
func (r *Room) persist(requester *Client, snap store.Snapshot) {
	err := r.store.Update(context.Background(), r.DocID, snap.Payload, snap.Title)

	r.mu.Lock()
	r.saving = false
	if err == nil {
		r.snapshot = snap
	} else if r.pending == nil {
		r.pending = &snap
	}
	r.mu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{"docId": r.DocID, "error": err}).Error("document save failed")
		if requester != nil {
			requester.sendMsg(ServerMessage{
				Type:    MsgDocumentSaved,
				DocID:   r.DocID,
				Status:  SaveStatusError,
				Message: err.Error(),
			})
		}
		return
	}
	if requester != nil {
		requester.sendMsg(ServerMessage{Type: MsgDocumentSaved, DocID: r.DocID, Status: SaveStatusOK})
	}
}

// memberInfos returns the member list sorted by ID. Callers hold r.mu.
func (r *Room) memberInfos() []MemberInfo {
	infos := make([]MemberInfo, 0, len(r.members))
	for id, m := range r.members {
		infos = append(infos, MemberInfo{ID: id, Color: m.color, Cursor: m.cursor})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (r *Room) memberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
