package store

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTitle is given to documents created on first access.
const DefaultTitle = "Untitled Document"

// emptyPayload is the content of a freshly created document.
var emptyPayload = json.RawMessage(`{}`)

// Snapshot is the durable state of a document: an opaque content payload
// plus its title. The payload is produced and interpreted by clients only;
// the server never looks inside it.
type Snapshot struct {
	Payload json.RawMessage `json:"payload"`
	Title   string          `json:"title"`
}

// DocumentInfo holds document metadata.
type DocumentInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentStore abstracts document persistence.
// Implementations: MemoryStore, SQLiteStore, FirestoreStore, S3Store.
type DocumentStore interface {
	// GetOrCreate returns the snapshot for id, creating the document with
	// an empty payload and DefaultTitle if it does not exist.
	GetOrCreate(ctx context.Context, id string) (*Snapshot, error)
	// Update overwrites the stored snapshot. The document must exist.
	Update(ctx context.Context, id string, payload json.RawMessage, title string) error
	// List returns metadata for all stored documents.
	List(ctx context.Context) ([]DocumentInfo, error)
}

// FromEnv selects a storage backend from the STORAGE_TYPE environment
// variable: "sqlite", "firestore", "s3", or in-memory by default.
func FromEnv() (DocumentStore, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	fields := logrus.Fields{"storageType": storageType}

	var (
		st  DocumentStore
		err error
	)
	switch storageType {
	case "sqlite":
		dsn := os.Getenv("DATA_SOURCE_NAME")
		fields["dataSourceName"] = dsn
		st, err = NewSQLiteStore(dsn)
	case "firestore":
		project := os.Getenv("FIRESTORE_PROJECT")
		fields["project"] = project
		st, err = NewFirestoreStoreForProject(context.Background(), project)
	case "s3":
		bucket := os.Getenv("S3_BUCKET_NAME")
		fields["bucket"] = bucket
		st, err = NewS3Store(context.Background(), bucket)
	default:
		fields["storageType"] = "in-memory"
		st = NewMemoryStore()
	}
	if err != nil {
		return nil, err
	}
	logrus.WithFields(fields).Info("using storage backend")
	return st, nil
}
