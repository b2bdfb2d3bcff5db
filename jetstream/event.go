package jetstream

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Event kinds carried on the stream.
const (
	EvtKindCommit   = "commit"
	EvtKindIdentity = "identity"
	EvtKindAccount  = "account"
)

// Commit operations.
const (
	CommitOpCreate = "create"
	CommitOpUpdate = "update"
	CommitOpDelete = "delete"
)

// Event is one JSON frame from the upstream feed. TimeUS doubles as the
// stream cursor (microseconds since epoch).
type Event struct {
	Did    string  `json:"did"`
	TimeUS int64   `json:"time_us"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit describes a single record operation within a commit event.
type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

// StrongRef is a CID+URI reference to a record.
type StrongRef struct {
	CID string `json:"cid"`
	URI string `json:"uri"`
}

// LikeRecord is the app.bsky.feed.like record shape.
type LikeRecord struct {
	Type      string    `json:"$type"`
	CreatedAt string    `json:"createdAt"`
	Subject   StrongRef `json:"subject"`
}

// ParseLikeRecord decodes the record body of a like commit.
func ParseLikeRecord(raw json.RawMessage) (*LikeRecord, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty record body")
	}
	var rec LikeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parsing like record: %w", err)
	}
	return &rec, nil
}
