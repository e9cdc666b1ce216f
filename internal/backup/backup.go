// Package backup uploads subject store snapshots to S3 compatible object
// storage (MinIO in the default deployment).
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fpkiosk/fpkiosk/internal/config"
	"github.com/fpkiosk/fpkiosk/internal/models"
)

type Service struct {
	config *config.Config
}

func NewService(cfg *config.Config) *Service {
	return &Service{config: cfg}
}

// StorageKey returns the object key for a snapshot taken now. Keys are
// partitioned by kiosk and day so retention policies stay simple.
func StorageKey(kioskID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("kiosks/%s/%d/%02d/%02d/%v.json", kioskID, d.Year(), d.Month(), d.Day(), uuid.New())
}

func (s *Service) getClient() (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return client, nil
}

// seam for tests
var putObject = func(c *s3.Client, ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	return c.PutObject(ctx, in)
}

// Upload serializes snap and stores it under a fresh storage key, which is
// returned so callers can log or report it.
func (s *Service) Upload(ctx context.Context, snap *models.Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	client, err := s.getClient()
	if err != nil {
		return "", err
	}

	bucket := s.config.S3Bucket
	key := StorageKey(s.config.KioskID)

	_, err = putObject(client, ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	return key, nil
}
