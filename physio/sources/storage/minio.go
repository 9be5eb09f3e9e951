package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"physio/physio/config"
	"physio/physio/types"
	"physio/physio/utils/logging"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

type MinIOClient struct {
	client *minio.Client
	bucket string
}

// Transcript is the archived JSON form of a conversation.
type Transcript struct {
	Conversation types.Conversation `json:"conversation"`
	ArchivedAt   time.Time          `json:"archivedAt"`
}

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOSecure,
		},
	)
	if err != nil {
		return nil, err
	}
	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, err
		}
		logging.AppLogger.Info("created transcript bucket", zap.String("bucket", cfg.MinIOBucket))
	}
	return &MinIOClient{client: client, bucket: cfg.MinIOBucket}, nil
}

// TranscriptKey scopes archives by patient so ownership is part of the key.
func TranscriptKey(patientID, conversationID string) string {
	return path.Join("transcripts", patientID, conversationID+".json")
}

func (m *MinIOClient) UploadTranscript(ctx context.Context, conv types.Conversation) (string, error) {
	defer logging.LogDuration(ctx, "minio_upload_transcript")()

	key := TranscriptKey(conv.PatientID, conv.ID)
	data, err := json.Marshal(Transcript{Conversation: conv, ArchivedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload transcript %s: %w", key, err)
	}
	return key, nil
}

func (m *MinIOClient) GetTranscript(ctx context.Context, patientID, conversationID string) ([]byte, error) {
	key := TranscriptKey(patientID, conversationID)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", key, ErrTranscriptNotFound)
		}
		return nil, err
	}
	return data, nil
}
