package repository

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/lathe/pkg/download"
	"github.com/platinummonkey/lathe/pkg/version"
)

var tracer = otel.Tracer("github.com/platinummonkey/lathe/pkg/repository")

// S3API is the subset of the S3 client used by S3Repository
type S3API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Repository keeps artifacts in a bucket under <prefix>/<bsn>/ and
// downloads them into a local cache directory on demand.
type S3Repository struct {
	name     string
	client   S3API
	bucket   string
	prefix   string
	cacheDir string
	readOnly bool
	log      logrus.FieldLogger

	group   singleflight.Group
	pending sync.WaitGroup
}

// NewS3Repository creates a repository over an existing client
func NewS3Repository(name string, client S3API, bucket, prefix, cacheDir string, log logrus.FieldLogger) *S3Repository {
	if log == nil {
		log = logrus.New()
	}
	return &S3Repository{
		name:     name,
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		cacheDir: cacheDir,
		log:      log,
	}
}

// NewS3Client builds an S3 client from repository settings
func NewS3Client(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		// static credentials for MinIO style endpoints
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Name implements Plugin.Name
func (r *S3Repository) Name() string { return r.name }

// CanWrite implements Plugin.CanWrite
func (r *S3Repository) CanWrite() bool { return !r.readOnly }

// Prepare implements Preparer
func (r *S3Repository) Prepare(ctx context.Context) error {
	if err := os.MkdirAll(r.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

func (r *S3Repository) key(parts ...string) string {
	if r.prefix == "" {
		return path.Join(parts...)
	}
	return path.Join(append([]string{r.prefix}, parts...)...)
}

func (r *S3Repository) span(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("s3.operation", op),
		attribute.String("s3.bucket", r.bucket),
		attribute.String("repository", r.name),
	)
	return tracer.Start(ctx, "S3Repository."+op, trace.WithAttributes(attrs...))
}

// list pages through ListObjectsV2
func (r *S3Repository) list(ctx context.Context, prefix, delimiter string) ([]string, []string, error) {
	var keys, prefixes []string
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}

	for {
		out, err := r.client.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		for _, cp := range out.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		in.ContinuationToken = out.NextContinuationToken
	}
	return keys, prefixes, nil
}

// List implements Plugin.List
func (r *S3Repository) List(ctx context.Context, pattern string) ([]string, error) {
	ctx, span := r.span(ctx, "List", attribute.String("pattern", pattern))
	defer span.End()

	root := r.key() + "/"
	if r.prefix == "" {
		root = ""
	}
	_, prefixes, err := r.list(ctx, root, "/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, fmt.Errorf("failed to list %s: %w", r.name, err)
	}

	var names []string
	for _, p := range prefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(p, root), "/")
		if name != "" && Match(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// objects maps versions of bsn to object keys
func (r *S3Repository) objects(ctx context.Context, bsn string) (map[version.Version]string, error) {
	keys, _, err := r.list(ctx, r.key(bsn)+"/", "")
	if err != nil {
		return nil, fmt.Errorf("failed to list versions of %s: %w", bsn, err)
	}
	out := make(map[version.Version]string)
	for _, k := range keys {
		if v, _, ok := ParseArtifactName(bsn, path.Base(k)); ok {
			out[v] = k
		}
	}
	return out, nil
}

// Versions implements Plugin.Versions
func (r *S3Repository) Versions(ctx context.Context, bsn string) ([]version.Version, error) {
	ctx, span := r.span(ctx, "Versions", attribute.String("bsn", bsn))
	defer span.End()

	objs, err := r.objects(ctx, bsn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}
	versions := make([]version.Version, 0, len(objs))
	for v := range objs {
		versions = append(versions, v)
	}
	version.Sort(versions)
	return versions, nil
}

// Get implements Plugin.Get. With listeners the download runs in the
// background and the returned path may not exist yet.
func (r *S3Repository) Get(ctx context.Context, bsn string, v version.Version, attrs map[string]string, listeners ...download.Listener) (string, error) {
	objs, err := r.objects(ctx, bsn)
	if err != nil {
		return "", err
	}
	key, ok := objs[v]
	if !ok {
		return "", fmt.Errorf("%w: %s;version=%s in %s", ErrNotFound, bsn, v, r.name)
	}

	local := filepath.Join(r.cacheDir, bsn, path.Base(key))
	if _, err := os.Stat(local); err == nil {
		notify(listeners, local, nil)
		return local, nil
	}

	if len(listeners) == 0 {
		if err := r.fetch(context.WithoutCancel(ctx), key, local); err != nil {
			return "", err
		}
		return local, nil
	}

	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		err := r.fetch(context.WithoutCancel(ctx), key, local)
		notify(listeners, local, err)
	}()
	return local, nil
}

// Wait blocks until background downloads have finished
func (r *S3Repository) Wait() {
	r.pending.Wait()
}

// fetch downloads key to local once even when requested concurrently
func (r *S3Repository) fetch(ctx context.Context, key, local string) error {
	_, err, _ := r.group.Do(key, func() (interface{}, error) {
		if _, err := os.Stat(local); err == nil {
			return nil, nil
		}
		return nil, r.download(ctx, key, local)
	})
	return err
}

func (r *S3Repository) download(ctx context.Context, key, local string) error {
	ctx, span := r.span(ctx, "GetObject", attribute.String("s3.key", key))
	defer span.End()

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get failed")
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, out.Body)
	if err != nil {
		tmp.Close()
		span.RecordError(err)
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("failed to move download into cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("content.size", n))
	r.log.WithFields(logrus.Fields{"repo": r.name, "key": key, "bytes": n}).Debug("downloaded artifact")
	return nil
}

// Put implements Plugin.Put
func (r *S3Repository) Put(ctx context.Context, in io.Reader, opts PutOptions) (*PutResult, error) {
	if r.readOnly {
		return nil, fmt.Errorf("%w: %s", ErrReadOnly, r.name)
	}
	key := r.key(opts.Bsn, ArtifactName(opts.Bsn, opts.Version, opts.Ext))
	ctx, span := r.span(ctx, "PutObject", attribute.String("s3.key", key))
	defer span.End()

	data, err := io.ReadAll(in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return nil, fmt.Errorf("failed to read content: %w", err)
	}
	hash := sha256.Sum256(data)
	sum := hex.EncodeToString(hash[:])
	if opts.Digest != "" && NormalizeDigest(opts.Digest) != sum {
		return nil, fmt.Errorf("%w: expected %s got %s", ErrDigestMismatch, opts.Digest, sum)
	}

	meta := map[string]string{"checksum-sha256": sum}
	if opts.Phase != PhaseUnknown {
		meta["phase"] = opts.Phase.String()
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(r.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: meta,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "put failed")
		return nil, fmt.Errorf("failed to put %s: %w", key, err)
	}

	span.SetAttributes(attribute.Int("content.size", len(data)))
	return &PutResult{Location: fmt.Sprintf("s3://%s/%s", r.bucket, key), Digest: sum}, nil
}
