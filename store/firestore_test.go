package store

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func testFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()
	projectID := os.Getenv("FIRESTORE_PROJECT")
	if projectID == "" {
		t.Skip("FIRESTORE_PROJECT not set, skipping Firestore tests")
	}
	client, err := firestore.NewClient(ctx(), projectID)
	if err != nil {
		t.Fatalf("failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// uniqueDocID returns a unique document ID for test isolation.
func uniqueDocID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func cleanupDoc(t *testing.T, s *FirestoreStore, docID string) {
	t.Helper()
	s.docRef(docID).Delete(ctx())
}

func TestFirestoreStore_GetOrCreateCreatesEmpty(t *testing.T) {
	s := NewFirestoreStore(testFirestoreClient(t))
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	snap, err := s.GetOrCreate(ctx(), docID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", snap.Title, DefaultTitle)
	}
	if string(snap.Payload) != `{}` {
		t.Errorf("payload = %s, want {}", snap.Payload)
	}
}

func TestFirestoreStore_UpdateAndGet(t *testing.T) {
	s := NewFirestoreStore(testFirestoreClient(t))
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	if _, err := s.GetOrCreate(ctx(), docID); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(ctx(), docID, json.RawMessage(`{"v":1}`), "Cloud Doc"); err != nil {
		t.Fatal(err)
	}

	snap, err := s.GetOrCreate(ctx(), docID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != "Cloud Doc" {
		t.Errorf("title = %q, want %q (existing doc must not be reset)", snap.Title, "Cloud Doc")
	}
	if string(snap.Payload) != `{"v":1}` {
		t.Errorf("payload = %s, want {\"v\":1}", snap.Payload)
	}
}

func TestFirestoreStore_UpdateMissing(t *testing.T) {
	s := NewFirestoreStore(testFirestoreClient(t))
	if err := s.Update(ctx(), uniqueDocID(t), json.RawMessage(`{}`), "x"); err == nil {
		t.Fatal("expected error updating missing document")
	}
}

func TestFirestoreStore_List(t *testing.T) {
	s := NewFirestoreStore(testFirestoreClient(t))
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	if _, err := s.GetOrCreate(ctx(), docID); err != nil {
		t.Fatal(err)
	}

	docs, err := s.List(ctx())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range docs {
		if d.ID == docID {
			found = true
			if d.Title != DefaultTitle {
				t.Errorf("title = %q, want %q", d.Title, DefaultTitle)
			}
		}
	}
	if !found {
		t.Errorf("document %q not in listing", docID)
	}
}
