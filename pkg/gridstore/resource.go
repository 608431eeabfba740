package gridstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Resource types.
const (
	ResourceFS    = "fs"
	ResourceS3    = "s3"
	ResourceAzure = "azure"
)

// errReplicaMissing is returned by resources when a replica key is absent.
var errReplicaMissing = errors.New("replica not found on resource")

// Resource stores replica content under opaque keys.
type Resource interface {
	Name() string
	// Put stores the content of f under key and returns the physical
	// location.
	Put(ctx context.Context, key string, f *os.File, size int64) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ResourceConfig describes one storage resource.
type ResourceConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Type string `mapstructure:"type" validate:"required,oneof=fs s3 azure"`

	// fs
	Path string `mapstructure:"path"`

	// s3
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Prefix          string `mapstructure:"prefix"`

	// azure
	ConnectionString string `mapstructure:"connection_string"`
	SASURL           string `mapstructure:"sas_url"`
	Container        string `mapstructure:"container"`
}

// NewResource opens the resource described by config.
func NewResource(ctx context.Context, config ResourceConfig) (Resource, error) {
	switch config.Type {
	case ResourceFS:
		return NewFSResource(config.Name, config.Path)
	case ResourceS3:
		return NewS3Resource(ctx, config)
	case ResourceAzure:
		return NewAzureResource(config)
	default:
		return nil, fmt.Errorf("unsupported resource type: %s", config.Type)
	}
}

// FSResource keeps replicas as files below a vault directory.
type FSResource struct {
	name string
	dir  string
}

// NewFSResource creates the vault directory if needed.
func NewFSResource(name, dir string) (*FSResource, error) {
	if dir == "" {
		return nil, errors.New("resource path is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vault %s: %w", dir, err)
	}
	return &FSResource{name: name, dir: dir}, nil
}

// Name returns the resource name.
func (r *FSResource) Name() string {
	return r.name
}

func (r *FSResource) location(key string) string {
	return filepath.Join(r.dir, filepath.FromSlash(key))
}

// Put copies f into the vault under key.
func (r *FSResource) Put(ctx context.Context, key string, f *os.File, _ int64) (string, error) {
	dest := r.location(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".put-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: f}); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// Get opens the content stored under key.
func (r *FSResource) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(r.location(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errReplicaMissing
	}
	return f, err
}

// Delete removes the content stored under key.
func (r *FSResource) Delete(_ context.Context, key string) error {
	err := os.Remove(r.location(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// S3Resource keeps replicas as objects in an S3 bucket.
type S3Resource struct {
	name   string
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Resource builds an S3 client. Static credentials are used when
// given, otherwise the default AWS credential chain applies. A custom
// endpoint switches to path-style addressing (MinIO, localstack).
func NewS3Resource(ctx context.Context, config ResourceConfig) (*S3Resource, error) {
	if config.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Resource{
		name:   config.Name,
		client: client,
		bucket: config.Bucket,
		prefix: strings.Trim(config.Prefix, "/"),
	}, nil
}

// Name returns the resource name.
func (r *S3Resource) Name() string {
	return r.name
}

func (r *S3Resource) objectKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + "/" + key
}

// Put uploads f as the object of key.
func (r *S3Resource) Put(ctx context.Context, key string, f *os.File, size int64) (string, error) {
	k := r.objectKey(key)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(k),
		Body:          f,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put s3://%s/%s: %w", r.bucket, k, err)
	}
	return "s3://" + r.bucket + "/" + k, nil
}

// Get streams the object of key.
func (r *S3Resource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errReplicaMissing
		}
		return nil, err
	}
	return out.Body, nil
}

// Delete removes the object of key.
func (r *S3Resource) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(key)),
	})
	return err
}

// AzureResource keeps replicas as block blobs in one container.
type AzureResource struct {
	name      string
	client    *azblob.Client
	container string
}

// NewAzureResource connects with a connection string or, failing that, a
// SAS URL.
func NewAzureResource(config ResourceConfig) (*AzureResource, error) {
	if config.Container == "" {
		return nil, errors.New("container is required")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case config.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(config.ConnectionString, &azblob.ClientOptions{})
	case config.SASURL != "":
		client, err = azblob.NewClientWithNoCredential(config.SASURL, &azblob.ClientOptions{})
	default:
		return nil, errors.New("connection_string or sas_url is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return &AzureResource{name: config.Name, client: client, container: config.Container}, nil
}

// Name returns the resource name.
func (r *AzureResource) Name() string {
	return r.name
}

// Put uploads f as the blob of key.
func (r *AzureResource) Put(ctx context.Context, key string, f *os.File, _ int64) (string, error) {
	if _, err := r.client.UploadFile(ctx, r.container, key, f, nil); err != nil {
		return "", fmt.Errorf("failed to upload blob %s/%s: %w", r.container, key, err)
	}
	return strings.TrimSuffix(r.client.URL(), "/") + "/" + r.container + "/" + key, nil
}

// Get streams the blob of key.
func (r *AzureResource) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := r.client.DownloadStream(ctx, r.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, errReplicaMissing
		}
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes the blob of key.
func (r *AzureResource) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteBlob(ctx, r.container, key, nil)
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

// ctxReader stops a copy when ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
