// Package source loads template documents from a local file, standard
// input ("-") or an S3-compatible object store ("s3://bucket/key").
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/jbweber/anvil/internal/loader"
)

// Stdin is the location that reads the document from standard input.
const Stdin = "-"

// ErrNotFound is returned when a remote document does not exist.
var ErrNotFound = errors.New("document not found")

// S3Options configure access to the object store. Empty credentials fall
// back to the default AWS credential chain.
type S3Options struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Location is a parsed document location.
type Location struct {
	// Scheme is "file", "stdin" or "s3".
	Scheme string
	Path   string
	Bucket string
	Key    string
}

// ParseLocation classifies a document location.
func ParseLocation(raw string) (Location, error) {
	switch {
	case raw == "":
		return Location{}, fmt.Errorf("document location cannot be empty")
	case raw == Stdin:
		return Location{Scheme: "stdin", Path: raw}, nil
	case strings.HasPrefix(raw, "s3://"):
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("invalid S3 location %q: %w", raw, err)
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("invalid S3 location %q: expected s3://bucket/key", raw)
		}
		return Location{Scheme: "s3", Path: raw, Bucket: u.Host, Key: key}, nil
	default:
		return Location{Scheme: "file", Path: raw}, nil
	}
}

// Reader loads documents from any supported location.
type Reader struct {
	// Stdin is read for the "-" location.
	Stdin io.Reader
	// S3 configures the object store client, created on first use.
	S3 S3Options

	mu       sync.Mutex
	s3Client *s3.Client
}

// Load reads and loads the document at location.
func (r *Reader) Load(ctx context.Context, location string, opts loader.Options) (*loader.Document, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	if loc.Scheme == "file" {
		return loader.LoadFile(loc.Path, opts)
	}

	data, err := r.read(ctx, loc)
	if err != nil {
		return nil, err
	}
	doc, err := loader.LoadBytes(data, opts)
	if err != nil {
		return nil, err
	}
	doc.Source = location
	return doc, nil
}

func (r *Reader) read(ctx context.Context, loc Location) ([]byte, error) {
	switch loc.Scheme {
	case "stdin":
		if r.Stdin == nil {
			return nil, fmt.Errorf("no standard input available")
		}
		data, err := io.ReadAll(r.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read standard input: %w", err)
		}
		return data, nil
	case "s3":
		client, err := r.client(ctx)
		if err != nil {
			return nil, err
		}
		return getObject(ctx, client, loc.Bucket, loc.Key)
	default:
		return nil, fmt.Errorf("unsupported location scheme %q", loc.Scheme)
	}
}

func (r *Reader) client(ctx context.Context) (*s3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3Client != nil {
		return r.s3Client, nil
	}

	client, err := NewS3Client(ctx, r.S3)
	if err != nil {
		return nil, err
	}
	r.s3Client = client
	return client, nil
}

// NewS3Client creates an S3 client from opts.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

func getObject(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s from bucket %s: %w", key, bucket, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return buf.Bytes(), nil
}

func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}

	// S3-compatible stores do not always return the typed errors.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NoSuchBucket" || code == "NotFound"
	}
	return false
}
