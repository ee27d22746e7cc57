package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/alimasry/go-collab-session/store"
)

// ErrMemberJoined reports a join with a member ID that is already present
// in the room. A member ID identifies one connection at a time.
var ErrMemberJoined = errors.New("member id already joined to this document")

// Hub is the process-wide registry mapping document IDs to active rooms.
// Rooms are created lazily on first join and evicted when their last
// member leaves.
type Hub struct {
	store    store.DocumentStore
	autosave time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub creates a hub backed by st. autosave is the per-connection
// interval for re-driving coalesced saves; zero disables it.
func NewHub(st store.DocumentStore, autosave time.Duration) *Hub {
	return &Hub{
		store:    st,
		autosave: autosave,
		rooms:    make(map[string]*Room),
	}
}

// JoinOrCreate returns the room for docID, creating it if needed, and adds
// the client as a member. An empty docID requests a fresh document and
// gets a generated ID. The initial store fetch happens once per room
// lifetime, outside the registry lock, so first joins of unrelated
// documents never contend.
func (h *Hub) JoinOrCreate(ctx context.Context, docID string, c *Client) (*Room, error) {
	if docID == "" {
		docID = ulid.Make().String()
		logrus.WithFields(logrus.Fields{"docId": docID, "memberId": c.ID}).Debug("generated document id")
	}

	h.mu.Lock()
	r, ok := h.rooms[docID]
	if !ok {
		r = newRoom(docID, h.store)
		h.rooms[docID] = r
	}
	if !r.addMember(c) {
		h.mu.Unlock()
		logrus.WithFields(logrus.Fields{"docId": docID, "memberId": c.ID}).Warn("duplicate member id")
		return nil, ErrMemberJoined
	}
	h.mu.Unlock()

	if err := r.load(ctx); err != nil {
		logrus.WithFields(logrus.Fields{"docId": docID, "error": err}).Error("failed to load document")
		h.Leave(docID, c)
		return nil, err
	}
	return r, nil
}

// Leave removes the client from its room and evicts the room if it became
// empty. Eviction happens under the registry lock so a concurrent join can
// never land in a removed room.
func (h *Hub) Leave(docID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[docID]
	if !ok {
		return
	}
	if r.removeMember(c) {
		delete(h.rooms, docID)
		logrus.WithField("docId", docID).Debug("room evicted")
	}
}

// Room returns the active room for a document, or nil.
func (h *Hub) Room(docID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[docID]
}

// ActiveRooms returns a snapshot of active document IDs with their member
// counts.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	counts := make(map[string]int, len(rooms))
	for _, r := range rooms {
		counts[r.DocID] = r.memberCount()
	}
	return counts
}
