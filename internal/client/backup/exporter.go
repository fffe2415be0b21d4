// Package backup exports a JSON snapshot of the local collections to
// S3-compatible object storage. The snapshot is taken from the local store,
// so it includes edits that have not synced yet.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/garagekeeper/internal/client/store"
	"github.com/dmitrijs2005/garagekeeper/internal/dbx"
	"github.com/dmitrijs2005/garagekeeper/internal/logging"
	"github.com/dmitrijs2005/garagekeeper/internal/models"
	"github.com/dmitrijs2005/garagekeeper/internal/timex"
)

// ObjectPutter is satisfied by *s3.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type UserSource interface {
	UserID() string
}

type Snapshot struct {
	UserID     string           `json:"user_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Vehicles   []*models.Record `json:"vehicles"`
	Services   []*models.Record `json:"services"`
}

type Exporter struct {
	db     *sql.DB
	client ObjectPutter
	bucket string
	prefix string
	users  UserSource
	now    timex.Clock
	logger logging.Logger
}

func NewExporter(db *sql.DB, client ObjectPutter, bucket, prefix string, users UserSource, logger logging.Logger) *Exporter {
	return &Exporter{
		db:     db,
		client: client,
		bucket: bucket,
		prefix: prefix,
		users:  users,
		now:    timex.Now,
		logger: logger.With("module", "backup"),
	}
}

// Snapshot reads both collections of the current user in one transaction.
func (e *Exporter) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{UserID: e.users.UserID(), ExportedAt: e.now()}

	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		records := store.NewRecordRepository(tx)
		var err error
		if snap.Vehicles, err = records.GetByIndex(ctx, models.Vehicles, models.IndexUserID, snap.UserID); err != nil {
			return err
		}
		snap.Services, err = records.GetByIndex(ctx, models.Services, models.IndexUserID, snap.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Key returns the object key for a snapshot.
func (e *Exporter) Key(s *Snapshot) string {
	return path.Join(e.prefix, s.UserID, s.ExportedAt.UTC().Format("20060102T150405.000000Z")+".json")
}

// Export uploads a snapshot and returns its object key.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := e.Key(snap)
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	e.logger.Info(ctx, "backup uploaded", "bucket", e.bucket, "key", key,
		"vehicles", len(snap.Vehicles), "services", len(snap.Services))
	return key, nil
}
