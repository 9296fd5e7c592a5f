package transfer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"pkt.systems/pslog"

	"pkt.systems/pushd/internal/svcfields"
	"pkt.systems/pushd/internal/version"
)

// ObjectConfig describes an S3-compatible mirror destination.
type ObjectConfig struct {
	Label          string
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	// AccessKey and SecretKey are used when set; otherwise credentials come
	// from the AWS/MinIO environment, the shared credentials file or IAM.
	AccessKey string
	SecretKey string
	Mappings  []Mapping
	Transport http.RoundTripper
	Logger    pslog.Logger
}

// Object uploads files as objects keyed by their mapped path.
type Object struct {
	cfg    ObjectConfig
	client *minio.Client
	logger pslog.Logger
}

// NewObject builds the MinIO client for cfg.
func NewObject(cfg ObjectConfig) (*Object, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("transfer: object bucket required")
	}
	if len(cfg.Mappings) == 0 {
		return nil, fmt.Errorf("transfer: object %s has no mappings", cfg.Bucket)
	}
	if cfg.Endpoint == "" {
		if cfg.Region != "" {
			cfg.Endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			cfg.Endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("transfer: create object client: %w", err)
	}
	client.SetAppInfo(version.AppName(), version.Current())
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Label == "" {
		cfg.Label = "s3://" + path.Join(cfg.Endpoint, cfg.Bucket, cfg.Prefix)
	}
	return &Object{
		cfg:    cfg,
		client: client,
		logger: svcfields.WithTarget(svcfields.WithSubsystem(cfg.Logger, "transfer", "object"), cfg.Label),
	}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	clone.MaxIdleConnsPerHost = 16
	clone.IdleConnTimeout = 90 * time.Second
	clone.TLSHandshakeTimeout = 10 * time.Second
	return clone
}

// Name returns the configured label.
func (o *Object) Name() string { return o.cfg.Label }

// Mappings returns the configured mappings.
func (o *Object) Mappings() []Mapping { return o.cfg.Mappings }

// Push uploads every mapped file. The request credentials are not used; the
// bucket must already exist.
func (o *Object) Push(ctx context.Context, _ Credentials, files []string) (Report, error) {
	exists, err := o.client.BucketExists(ctx, o.cfg.Bucket)
	if err != nil {
		return Report{}, fmt.Errorf("bucket %s: %w", o.cfg.Bucket, err)
	}
	if !exists {
		return Report{}, fmt.Errorf("bucket %s does not exist", o.cfg.Bucket)
	}
	report := Report{Outcomes: make([]Outcome, 0, len(files))}
	for _, file := range files {
		outcome := o.putOne(ctx, file)
		if outcome.Status == StatusError {
			o.logger.Warn("transfer.object.file.error", "file", file, "key", outcome.Destination, "error", outcome.Err)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	sum := report.Summary()
	o.logger.Info("transfer.object.done", "ok", sum.OK, "err", sum.Failed, "skipped", sum.Skipped)
	return report, nil
}

// Key maps a local file to its object key.
func (o *Object) Key(file string) (string, bool) {
	m, rest, ok := Match(o.cfg.Mappings, file)
	if !ok {
		return "", false
	}
	to := strings.ReplaceAll(m.To, `\`, "/")
	return strings.TrimPrefix(path.Join("/", o.cfg.Prefix, to, rest), "/"), true
}

func (o *Object) putOne(ctx context.Context, file string) Outcome {
	key, ok := o.Key(file)
	if !ok {
		return skippedOutcome(file)
	}
	opts := minio.PutObjectOptions{ContentType: contentType(file)}
	info, err := o.client.FPutObject(ctx, o.cfg.Bucket, key, file, opts)
	if err != nil {
		return errorOutcome(file, key, fmt.Errorf("put %s: %w", key, err))
	}
	return okOutcome(file, key, info.Size)
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Diagnose checks that the bucket is reachable and exists.
func (o *Object) Diagnose(ctx context.Context, _ Credentials) Diagnosis {
	d := Diagnosis{Host: o.cfg.Label, RemoteBase: o.cfg.Prefix}
	exists, err := o.client.BucketExists(ctx, o.cfg.Bucket)
	switch {
	case err != nil:
		d.Stage, d.Err = "connect/login", err.Error()
	case !exists:
		d.Stage, d.Err = "bucket", fmt.Sprintf("bucket %s does not exist", o.cfg.Bucket)
	default:
		d.OK = true
	}
	return d
}
