package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is a Firestore-backed implementation of DocumentStore.
// Each document snapshot lives in a single Firestore document; the payload
// is stored as an opaque JSON string.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a FirestoreStore using the given client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "documents",
	}
}

// NewFirestoreStoreForProject dials Firestore for the given project.
func NewFirestoreStoreForProject(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return NewFirestoreStore(client), nil
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) GetOrCreate(ctx context.Context, id string) (*Snapshot, error) {
	now := time.Now()
	_, err := s.docRef(id).Create(ctx, map[string]interface{}{
		"payload":   string(emptyPayload),
		"title":     DefaultTitle,
		"createdAt": now,
		"updatedAt": now,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return nil, err
	}

	snap, err := s.docRef(id).Get(ctx)
	if err != nil {
		return nil, err
	}
	data := snap.Data()
	payload, _ := data["payload"].(string)
	title, _ := data["title"].(string)
	return &Snapshot{Payload: json.RawMessage(payload), Title: title}, nil
}

func (s *FirestoreStore) Update(ctx context.Context, id string, payload json.RawMessage, title string) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "payload", Value: string(payload)},
		{Path: "title", Value: title},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("document %q not found", id)
	}
	return err
}

func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		data := snap.Data()
		title, _ := data["title"].(string)
		createdAt, _ := data["createdAt"].(time.Time)
		updatedAt, _ := data["updatedAt"].(time.Time)
		result = append(result, DocumentInfo{
			ID:        snap.Ref.ID,
			Title:     title,
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		})
	}
	return result, nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
