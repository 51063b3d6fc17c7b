package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/finguard/finguard/internal/config"
	"github.com/finguard/finguard/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Uploader is the part of the S3 upload manager the archiver needs
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ArchiveResult describes one uploaded export
type ArchiveResult struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Entries   int       `json:"entries"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
	Valid     bool      `json:"valid"`
	Uploaded  time.Time `json:"uploaded_at"`
}

// Archiver uploads ledger export reports to an S3-compatible bucket
type Archiver struct {
	uploader Uploader
	bucket   string
	prefix   string
	ledger   *Ledger
	events   *events.Manager
	log      zerolog.Logger
}

// NewArchiver creates an archiver over an existing uploader
func NewArchiver(uploader Uploader, bucket, prefix string, ledger *Ledger, log zerolog.Logger) *Archiver {
	return &Archiver{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		ledger:   ledger,
		log:      log.With().Str("service", "ledger_archiver").Logger(),
	}
}

// NewS3Archiver builds the S3 client and upload manager from archive settings.
// A custom endpoint (R2, MinIO) switches to path-style addressing.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, ledger *Ledger, log zerolog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewArchiver(manager.NewUploader(client), cfg.Bucket, cfg.Prefix, ledger, log), nil
}

// SetEventManager sets the event manager
func (a *Archiver) SetEventManager(manager *events.Manager) {
	a.events = manager
}

// Archive exports entries created in [from, to) and uploads the report
func (a *Archiver) Archive(ctx context.Context, from, to time.Time) (*ArchiveResult, error) {
	startTime := time.Now()

	report, err := a.ledger.Export(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to export ledger: %w", err)
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode export report: %w", err)
	}

	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])
	key := a.objectKey(report.GeneratedAt)

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"sha256":  checksum,
			"entries": strconv.Itoa(len(report.Entries)),
			"valid":   strconv.FormatBool(report.Verification.Valid),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload ledger export: %w", err)
	}

	result := &ArchiveResult{
		Bucket:    a.bucket,
		Key:       key,
		Entries:   len(report.Entries),
		SizeBytes: int64(len(body)),
		Checksum:  checksum,
		Valid:     report.Verification.Valid,
		Uploaded:  time.Now().UTC(),
	}

	a.log.Info().
		Dur("duration_ms", time.Since(startTime)).
		Str("key", key).
		Int("entries", result.Entries).
		Bool("valid", result.Valid).
		Msg("Ledger export archived")

	if a.events != nil {
		a.events.EmitTyped("ledger", &events.LedgerArchivedData{
			Bucket:  a.bucket,
			Key:     key,
			Entries: result.Entries,
		})
	}

	return result, nil
}

func (a *Archiver) objectKey(generatedAt time.Time) string {
	name := fmt.Sprintf("ledger-%s-%s.json", generatedAt.UTC().Format("20060102"), uuid.New().String())
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}
