package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tabsynth/internal/tableio"
	"github.com/inferloop/tabsynth/pkg/errors"
	"github.com/inferloop/tabsynth/pkg/models"
)

const (
	tableObject  = "synthetic.csv"
	reportObject = "report.json"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	PartSize        int64         `json:"part_size" mapstructure:"part_size"`
	UseCompression  bool          `json:"use_compression" mapstructure:"use_compression"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Storage stores synthetic tables as CSV objects and evaluation reports
// as JSON objects under one prefix per run
type S3Storage struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
	mu         sync.RWMutex
	closed     bool
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeStorageInvalidConfig, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
	}, nil
}

// Connect creates the session and checks bucket access
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}
	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}
	// S3-compatible services
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}
	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "SESSION_FAILED", "Failed to create AWS session")
	}

	client := s3.New(sess)
	if _, err := client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "BUCKET_ACCESS_FAILED",
			fmt.Sprintf("Failed to access bucket '%s'", s.config.Bucket))
	}

	s.s3Client = client
	s.uploader = s3manager.NewUploader(sess)
	s.downloader = s3manager.NewDownloader(sess)
	if s.config.PartSize > 0 {
		s.uploader.PartSize = s.config.PartSize
	}
	s.closed = false

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
		"prefix": s.config.Prefix,
	}).Info("Connected to S3")

	return nil
}

// Close releases the clients
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.uploader = nil
	s.downloader = nil
	s.closed = true

	s.logger.Info("S3 connection closed")
	return nil
}

// Ping checks bucket access
func (s *S3Storage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.s3Client == nil {
		return errors.NewStorageError(errors.CodeStorageNotConnected, "S3 not connected")
	}

	if _, err := s.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.config.Bucket),
	}); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageConnection, "S3 ping failed")
	}
	return nil
}

// SaveTable uploads the table as CSV
func (s *S3Storage) SaveTable(ctx context.Context, runID string, table *models.Table) error {
	if runID == "" || table == nil {
		return errors.NewValidationError("INVALID_DATA", "run ID and table are required")
	}
	var buf bytes.Buffer
	if err := tableio.WriteCSV(&buf, table); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize table")
	}
	return s.put(ctx, s.objectKey(runID, tableObject), "text/csv", buf.Bytes(), map[string]*string{
		"run-id":  aws.String(runID),
		"rows":    aws.String(fmt.Sprintf("%d", table.NumRows())),
		"columns": aws.String(fmt.Sprintf("%d", table.NumColumns())),
	})
}

// GetTable downloads a table stored by SaveTable
func (s *S3Storage) GetTable(ctx context.Context, runID string) (*models.Table, error) {
	data, err := s.get(ctx, s.objectKey(runID, tableObject))
	if err != nil {
		return nil, err
	}
	table, err := tableio.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to parse table")
	}
	return table, nil
}

// SaveReport uploads the report as JSON
func (s *S3Storage) SaveReport(ctx context.Context, runID string, report *models.EvaluationReport) error {
	if runID == "" || report == nil {
		return errors.NewValidationError("INVALID_DATA", "run ID and report are required")
	}
	var buf bytes.Buffer
	if err := tableio.WriteReport(&buf, report); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to serialize report")
	}
	return s.put(ctx, s.objectKey(runID, reportObject), "application/json", buf.Bytes(), map[string]*string{
		"run-id": aws.String(runID),
	})
}

// GetReport downloads a report stored by SaveReport
func (s *S3Storage) GetReport(ctx context.Context, runID string) (*models.EvaluationReport, error) {
	data, err := s.get(ctx, s.objectKey(runID, reportObject))
	if err != nil {
		return nil, err
	}
	var report models.EvaluationReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageSerialization, "Failed to deserialize report")
	}
	return &report, nil
}

func (s *S3Storage) put(ctx context.Context, key, contentType string, data []byte, metadata map[string]*string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.uploader == nil {
		return errors.NewStorageError(errors.CodeStorageNotConnected, "S3 not connected")
	}

	start := time.Now()
	body, contentEncoding, err := encodeBody(data, s.config.UseCompression)
	if err != nil {
		return err
	}

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    metadata,
	}
	if contentEncoding != "" {
		input.ContentEncoding = aws.String(contentEncoding)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "UPLOAD_FAILED", "Failed to upload to S3").
			WithContext("key", key)
	}

	s.logger.WithFields(logrus.Fields{
		"key":      key,
		"bytes":    len(body),
		"duration": time.Since(start),
	}).Debug("Uploaded object")

	return nil
}

func (s *S3Storage) get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || s.downloader == nil {
		return nil, errors.NewStorageError(errors.CodeStorageNotConnected, "S3 not connected")
	}

	buf := aws.NewWriteAtBuffer([]byte{})
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewStorageError(errors.CodeStorageNotFound, fmt.Sprintf("object '%s' not found", key)).
				WithContext("key", key)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DOWNLOAD_FAILED", "Failed to download from S3").
			WithContext("key", key)
	}

	return decodeBody(buf.Bytes(), s.config.UseCompression)
}

// objectKey lays objects out as prefix/runs/<run>/<name>
func (s *S3Storage) objectKey(runID, name string) string {
	prefix := strings.Trim(s.config.Prefix, "/")
	return path.Join(prefix, "runs", runID, name)
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}

func encodeBody(data []byte, compress bool) ([]byte, string, error) {
	if !compress {
		return data, "", nil
	}
	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	if _, err := gzWriter.Write(data); err != nil {
		return nil, "", errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
	}
	if err := gzWriter.Close(); err != nil {
		return nil, "", errors.WrapError(err, errors.ErrorTypeStorage, "COMPRESSION_FAILED", "Failed to compress data")
	}
	return buf.Bytes(), "gzip", nil
}

func decodeBody(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to decompress data")
	}
	defer gzReader.Close()

	decompressed, err := io.ReadAll(gzReader)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, "DECOMPRESSION_FAILED", "Failed to read decompressed data")
	}
	return decompressed, nil
}
