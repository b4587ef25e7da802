package archive

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
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BillFox/app/models"
	"github.com/ManuelReschke/BillFox/app/repository"
)

// Client pushes finished sync reports to an S3-compatible bucket so the
// audit trail survives database retention.
type Client struct {
	s3Client *s3.Client
	config   *Config
	reports  repository.SyncReportRepository
	// lastArchivedAt bounds the next ArchiveRecent scan.
	lastArchivedAt time.Time
}

// NewClient creates an archive client and verifies bucket access.
func NewClient(cfg *Config, reports repository.SyncReportRepository) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("report archival is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible providers need path-style URLs.
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := &Client{
		s3Client:       s3Client,
		config:         cfg,
		reports:        reports,
		lastArchivedAt: time.Now().Add(-24 * time.Hour),
	}

	if err := client.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Infof("[Archive] Successfully initialized S3 client for bucket: %s", cfg.BucketName)
	return client, nil
}

// testConnection checks that the bucket exists and is accessible.
func (c *Client) testConnection() error {
	ctx := context.Background()

	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.config.BucketName),
	})
	if err != nil {
		// Outside prod a missing bucket is created on the fly.
		if GetAppEnv() != "prod" {
			log.Warnf("[Archive] Bucket %s not found, attempting to create it", c.config.BucketName)
			return c.createBucket(c.config.BucketName)
		}
		return fmt.Errorf("bucket %s not accessible: %w", c.config.BucketName, err)
	}

	return nil
}

func (c *Client) createBucket(bucketName string) error {
	ctx := context.Background()

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}
	// AWS regions other than us-east-1 need the location constraint;
	// S3-compatible endpoints reject it.
	if c.config.EndpointURL == "" && c.config.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.config.Region),
		}
	}

	if _, err := c.s3Client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
	}

	log.Infof("[Archive] Successfully created bucket: %s", bucketName)
	return nil
}

// ArchiveReport uploads one finished report as JSON.
func (c *Client) ArchiveReport(ctx context.Context, report *models.SyncReport) error {
	if report.CompletedAt == nil {
		return fmt.Errorf("report %s is not finished", report.RunID)
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report %s: %w", report.RunID, err)
	}

	key := c.config.GetObjectKey(report.RunID, *report.CompletedAt)
	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.config.BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", report.RunID, err)
	}

	log.Debugf("[Archive] Uploaded report %s to %s", report.RunID, key)
	return nil
}

// ArchiveRecent uploads every report completed since the previous sweep.
// Uploads are idempotent (keyed by run id), so overlapping sweeps only
// rewrite identical objects.
func (c *Client) ArchiveRecent(ctx context.Context) (int, error) {
	since := c.lastArchivedAt
	sweepStart := time.Now()

	reports, err := c.reports.ListCompletedSince(since)
	if err != nil {
		return 0, fmt.Errorf("list completed reports: %w", err)
	}

	archived := 0
	for i := range reports {
		if err := c.ArchiveReport(ctx, &reports[i]); err != nil {
			// Leave lastArchivedAt untouched so the failed report is
			// retried next sweep.
			return archived, err
		}
		archived++
	}

	c.lastArchivedAt = sweepStart
	return archived, nil
}
