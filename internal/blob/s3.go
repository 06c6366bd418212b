package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the minimal S3 surface required by S3. *s3.Client satisfies it.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	api     s3API
	bucket  string
	baseURL string
}

// NewS3 returns an uploader for bucket. When baseURL is empty, references use
// the s3://bucket/key form.
func NewS3(api s3API, bucket, baseURL string) (*S3, error) {
	if api == nil {
		return nil, errors.New("blob: s3 api must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("blob: bucket must not be empty")
	}
	return &S3{api: api, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *S3) Upload(ctx context.Context, data []byte, contentType, prefix string) (string, error) {
	key := objectName(prefix, contentType)
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("blob: s3 put %s: %w", key, err)
	}
	if s.baseURL == "" {
		return "s3://" + s.bucket + "/" + key, nil
	}
	return s.baseURL + "/" + key, nil
}
