package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type S3Options struct {
	BucketName string
	Region     string
	// Endpoint overrides the AWS endpoint, e.g. a local minio.
	Endpoint string
}

// S3Store uses the S3 API with credentials from the environment or the
// shared credentials file.
type S3Store struct {
	client s3iface.S3API
	bucket string
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.BucketName == "" {
		return nil, errors.New("s3 bucket name must not be empty")
	}

	config := aws.NewConfig()
	if opts.Region != "" {
		config = config.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		config = config.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}

	sessionOpts := session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}
	sessionOpts.Config.MergeIn(config)
	sess, err := session.NewSessionWithOptions(sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return newS3StoreWithClient(awss3.New(sess), opts.BucketName), nil
}

func newS3StoreWithClient(client s3iface.S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Get(ctx context.Context, key, etag string) (*Object, error) {
	input := &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if etag != "" {
		input.IfNoneMatch = aws.String(`"` + etag + `"`)
	}

	out, err := s.client.GetObjectWithContext(ctx, input)
	if err != nil {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) {
			switch reqErr.StatusCode() {
			case http.StatusNotModified:
				return &Object{ETag: etag, NotModified: true}, nil
			case http.StatusNotFound, http.StatusForbidden:
				return nil, ErrNotFound
			}
		}
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == awss3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return &Object{
		Content:      content,
		ContentType:  aws.StringValue(out.ContentType),
		ETag:         strings.Trim(aws.StringValue(out.ETag), `"`),
		CacheControl: aws.StringValue(out.CacheControl),
		Expiration:   aws.StringValue(out.Expiration),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, obj *Object) error {
	input := &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(obj.Content),
		ContentLength: aws.Int64(int64(len(obj.Content))),
		ContentType:   aws.String(obj.ContentType),
		ContentMD5:    aws.String(ContentMD5(obj.Content)),
	}
	if obj.CacheControl != "" {
		input.CacheControl = aws.String(obj.CacheControl)
	}

	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}
