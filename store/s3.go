package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3KeyPrefix = "documents/"

// s3Document is the object layout stored per document.
type s3Document struct {
	Payload   json.RawMessage `json:"payload"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// S3Store keeps each document as a single JSON object in a bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS config and targets bucketName.
func NewS3Store(ctx context.Context, bucketName string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucketName,
	}, nil
}

func (s *S3Store) key(id string) string {
	return s3KeyPrefix + id + ".json"
}

func (s *S3Store) get(ctx context.Context, id string) (*s3Document, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document %q: %w", id, err)
	}
	var doc s3Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document %q: %w", id, err)
	}
	return &doc, nil
}

func (s *S3Store) put(ctx context.Context, id string, doc *s3Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func isNoSuchKey(err error) bool {
	var noKey *s3types.NoSuchKey
	return errors.As(err, &noKey)
}

func (s *S3Store) GetOrCreate(ctx context.Context, id string) (*Snapshot, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		if !isNoSuchKey(err) {
			return nil, err
		}
		now := time.Now()
		doc = &s3Document{
			Payload:   emptyPayload,
			Title:     DefaultTitle,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.put(ctx, id, doc); err != nil {
			return nil, err
		}
	}
	return &Snapshot{Payload: doc.Payload, Title: doc.Title}, nil
}

func (s *S3Store) Update(ctx context.Context, id string, payload json.RawMessage, title string) error {
	doc, err := s.get(ctx, id)
	if err != nil {
		if isNoSuchKey(err) {
			return fmt.Errorf("document %q not found", id)
		}
		return err
	}
	doc.Payload = payload
	doc.Title = title
	doc.UpdatedAt = time.Now()
	return s.put(ctx, id, doc)
}

func (s *S3Store) List(ctx context.Context) ([]DocumentInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s3KeyPrefix),
	})

	var result []DocumentInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			id := strings.TrimSuffix(strings.TrimPrefix(key, s3KeyPrefix), ".json")
			doc, err := s.get(ctx, id)
			if err != nil {
				return nil, err
			}
			result = append(result, DocumentInfo{
				ID:        id,
				Title:     doc.Title,
				CreatedAt: doc.CreatedAt,
				UpdatedAt: doc.UpdatedAt,
			})
		}
	}
	return result, nil
}
