package server

import "encoding/json"

// Event types exchanged over the WebSocket.
const (
	// Client to server.
	MsgRequestDocument = "request-document"
	MsgJoinMember      = "join-member"
	MsgSubmitOperation = "submit-operation"
	MsgSaveDocument    = "save-document"
	MsgCursorPosition  = "cursor-position"

	// Server to client.
	MsgDocumentLoaded    = "document-loaded"
	MsgOperationReceived = "operation-received"
	MsgCursorUpdated     = "cursor-updated"
	MsgMembersChanged    = "members-changed"
	MsgDocumentSaved     = "document-saved"
	MsgError             = "error"
)

// Save acknowledgment statuses carried by document-saved.
const (
	SaveStatusOK        = "ok"
	SaveStatusError     = "error"
	SaveStatusCoalesced = "coalesced"
)

// CursorRange is one member's selection: a start index and a length
// (zero for a bare caret).
type CursorRange struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

// ClientMessage is a message from client to server.
type ClientMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"docId,omitempty"`
	MemberID string          `json:"memberId,omitempty"`
	Color    string          `json:"color,omitempty"`
	Op       json.RawMessage `json:"op,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Title    string          `json:"title,omitempty"`
	Range    *CursorRange    `json:"range,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type     string          `json:"type"`
	DocID    string          `json:"docId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Title    string          `json:"title,omitempty"`
	Op       json.RawMessage `json:"op,omitempty"`
	MemberID string          `json:"memberId,omitempty"`
	Color    string          `json:"color,omitempty"`
	Range    *CursorRange    `json:"range,omitempty"`
	Members  []MemberInfo    `json:"members,omitempty"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// MemberInfo describes one connected member of a room.
type MemberInfo struct {
	ID     string       `json:"id"`
	Color  string       `json:"color"`
	Cursor *CursorRange `json:"cursor,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
