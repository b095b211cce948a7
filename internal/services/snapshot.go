// internal/services/snapshot.go
package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"groundwork/internal/config"
	"groundwork/internal/models"
	"groundwork/internal/repository"
)

// Snapshotter uploads a JSON snapshot of the migration bookkeeping before a
// destructive command mutates it. With no bucket configured it is a no-op.
type Snapshotter struct {
	client *s3.Client
	bucket string
}

func NewSnapshotter(s3cfg *config.S3Config) *Snapshotter {
	return &Snapshotter{client: s3cfg.Client, bucket: s3cfg.Bucket}
}

type migrationRow struct {
	App       string    `json:"app"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

type snapshot struct {
	TakenAt      time.Time            `json:"taken_at"`
	Migrations   []migrationRow       `json:"migrations"`
	ContentTypes []models.ContentType `json:"content_types"`
}

// Snapshot captures schema_migrations and content_types and uploads them to
// the configured bucket. It returns the object key, or "" when disabled.
func (s *Snapshotter) Snapshot(ctx context.Context, db *sql.DB) (string, error) {
	if s.client == nil || s.bucket == "" {
		return "", nil
	}

	snap := snapshot{TakenAt: time.Now().UTC()}

	rows, err := db.QueryContext(ctx, "SELECT app, version, name, applied_at FROM schema_migrations ORDER BY app, version")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var r migrationRow
			if err := rows.Scan(&r.App, &r.Version, &r.Name, &r.AppliedAt); err != nil {
				return "", err
			}
			snap.Migrations = append(snap.Migrations, r)
		}
		if err := rows.Err(); err != nil {
			return "", err
		}
	}

	// A missing content_types table just means an empty section.
	if cts, err := repository.NewContentTypeRepository(db).List(ctx); err == nil {
		snap.ContentTypes = cts
	}

	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("snapshots/migrations-%s.json", snap.TakenAt.Format("20060102-150405"))
	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return key, nil
}
