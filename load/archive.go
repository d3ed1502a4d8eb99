package load

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/opengovsl/landetl/log"
	"github.com/opengovsl/landetl/types"
)

// DefaultDataset names the archive dataset.
const DefaultDataset = "land-records"

// ArchiveConfig configures the JSONL archive destination.
type ArchiveConfig struct {
	// Dataset is the lode dataset id (default "land-records").
	Dataset string
	// Name labels the destination (default "archive").
	Name string
}

func (c ArchiveConfig) normalize() ArchiveConfig {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.Name == "" {
		c.Name = "archive"
	}
	return c
}

// S3Config holds the S3 storage backend settings.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible providers.
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ArchiveDestination appends merged records as JSONL into Hive-partitioned
// storage (day/run_id), giving each run an immutable replayable trail next
// to the relational store.
type ArchiveDestination struct {
	config  ArchiveConfig
	dataset lode.Dataset
	logger  *log.Logger
	now     func() time.Time
}

// NewArchiveDestination creates an archive over filesystem storage rooted
// at root.
func NewArchiveDestination(cfg ArchiveConfig, root string, logger *log.Logger) (*ArchiveDestination, error) {
	return NewArchiveDestinationWithFactory(cfg, lode.NewFSFactory(root), logger)
}

// NewArchiveDestinationWithFactory creates an archive with a custom store
// factory. Use lode.NewMemoryFactory() for testing.
func NewArchiveDestinationWithFactory(cfg ArchiveConfig, factory lode.StoreFactory, logger *log.Logger) (*ArchiveDestination, error) {
	cfg = cfg.normalize()
	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("day", "run_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &ArchiveDestination{
		config:  cfg,
		dataset: ds,
		logger:  logger.WithStage(types.StageLoad, cfg.Name),
		now:     time.Now,
	}, nil
}

// NewArchiveS3Destination creates an archive over an S3 bucket.
// Uses the AWS SDK default credential chain (env vars, shared config, IAM
// role).
func NewArchiveS3Destination(ctx context.Context, cfg ArchiveConfig, s3cfg S3Config, logger *log.Logger) (*ArchiveDestination, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	s3Client := s3.NewFromConfig(awsConfig, s3Opts...)

	factory := func() (lode.Store, error) {
		return lodes3.New(s3Client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}
	return NewArchiveDestinationWithFactory(cfg, factory, logger)
}

// Name implements Destination.
func (a *ArchiveDestination) Name() string { return a.config.Name }

// Connect implements Destination. The dataset needs no warm-up.
func (a *ArchiveDestination) Connect(context.Context) error { return nil }

// LoadBatch appends the batch under day=<today>/run_id=<run>. Every record
// counts as loaded; the archive is append-only and has no update path.
func (a *ArchiveDestination) LoadBatch(ctx context.Context, runID string, records []*types.LandRecord) (*Result, error) {
	result := &Result{}
	if len(records) == 0 {
		return result, nil
	}

	day := a.now().UTC().Format("2006-01-02")
	rows := make([]any, 0, len(records))
	for _, rec := range records {
		row, err := archiveRow(rec, day, runID)
		if err != nil {
			result.Errors = append(result.Errors, &types.RecordError{
				Stage:     types.StageLoad,
				Source:    a.config.Name,
				RecordID:  rec.ID,
				Message:   err.Error(),
				Retryable: false,
			})
			continue
		}
		rows = append(rows, row)
	}

	if _, err := a.dataset.Write(ctx, rows, lode.Metadata{}); err != nil {
		return nil, fmt.Errorf("archive write: %w", err)
	}
	result.Loaded = len(rows)
	return result, nil
}

// Close implements Destination.
func (a *ArchiveDestination) Close() error { return nil }

// archiveRow flattens a record to a map carrying the partition keys.
func archiveRow(rec *types.LandRecord, day, runID string) (map[string]any, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	row := make(map[string]any)
	if err := json.Unmarshal(body, &row); err != nil {
		return nil, fmt.Errorf("flatten record %s: %w", rec.ID, err)
	}
	row["day"] = day
	row["run_id"] = runID
	return row, nil
}

// Verify ArchiveDestination implements Destination.
var _ Destination = (*ArchiveDestination)(nil)
