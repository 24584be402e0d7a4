package relocate

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Options configures the S3-compatible backend. Endpoint and credentials
// are optional; when omitted the default AWS provider chain is used.
type S3Options struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	PublicDomain string
}

// S3 stores artifacts in an S3-compatible bucket. Objects carry a created_at
// metadata timestamp used by the TTL purge.
type S3 struct {
	client       *s3.S3
	bucket       string
	publicDomain string
}

// NewS3 initializes an S3 backend.
func NewS3(opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("relocate: s3 bucket is required")
	}
	conf := &aws.Config{}
	if opts.Region != "" {
		conf.Region = aws.String(opts.Region)
	}
	if opts.Endpoint != "" {
		conf.Endpoint = aws.String(opts.Endpoint)
		conf.S3ForcePathStyle = aws.Bool(true)
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		conf.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	}
	sess, err := session.NewSession(conf)
	if err != nil {
		return nil, fmt.Errorf("relocate: create s3 session: %w", err)
	}
	return &S3{
		client:       s3.New(sess),
		bucket:       opts.Bucket,
		publicDomain: strings.TrimRight(opts.PublicDomain, "/"),
	}, nil
}

func (b *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case "NotFound", s3.ErrCodeNoSuchKey:
				return false, nil
			}
		}
		return false, fmt.Errorf("relocate: head object: %w", err)
	}
	return true, nil
}

func (b *S3) Save(ctx context.Context, key string, content []byte, contentType string) (string, error) {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]*string{
			"created_at": aws.String(strconv.FormatInt(time.Now().Unix(), 10)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("relocate: put object: %w", err)
	}
	return b.URL(ctx, key)
}

// URL returns the public domain URL when one is configured, otherwise a
// presigned URL valid for 24 hours so clients can fetch the asset after the
// serving process exits.
func (b *S3) URL(ctx context.Context, key string) (string, error) {
	if b.publicDomain != "" {
		return b.publicDomain + "/" + key, nil
	}
	req, _ := b.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(24 * time.Hour)
	if err != nil {
		return "", fmt.Errorf("relocate: presign url: %w", err)
	}
	return url, nil
}

func (b *S3) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("relocate: delete object: %w", err)
	}
	return nil
}

// PurgeExpired walks the bucket and removes objects older than ttl seconds,
// judged by the created_at metadata with LastModified as fallback.
func (b *S3) PurgeExpired(ctx context.Context, ttl int) (int, error) {
	now := time.Now().Unix()
	removed := 0
	var walkErr error
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			createdAt := int64(0)
			head, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(key),
			})
			if err == nil {
				if v, ok := head.Metadata["Created_at"]; ok {
					createdAt, _ = strconv.ParseInt(aws.StringValue(v), 10, 64)
				}
			}
			if createdAt == 0 && obj.LastModified != nil {
				createdAt = obj.LastModified.Unix()
			}
			if createdAt == 0 || now-createdAt <= int64(ttl) {
				continue
			}
			if _, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(key),
			}); err != nil {
				walkErr = err
				continue
			}
			removed++
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return removed, fmt.Errorf("relocate: list objects: %w", err)
	}
	return removed, walkErr
}

var _ Backend = (*S3)(nil)
