package utils

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	appconfig "matchmaking-system/config"
)

var ErrUploadDisabled = eris.New("object storage is not configured")

// ObjectPutter is the part of the S3 client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArtifactUploader stores files in a Cloudflare R2 bucket through its S3
// compatible API.
type ArtifactUploader struct {
	client     ObjectPutter
	bucket     string
	cdnBaseURL string
}

func NewArtifactUploader(ctx context.Context, cfg appconfig.R2Config) (*ArtifactUploader, error) {
	if !cfg.Enabled() {
		return nil, ErrUploadDisabled
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to load R2 config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	base := cfg.CDNBaseURL
	if base == "" {
		base = endpoint + "/" + cfg.Bucket
	}
	return NewArtifactUploaderWithClient(client, cfg.Bucket, base), nil
}

func NewArtifactUploaderWithClient(client ObjectPutter, bucket, cdnBaseURL string) *ArtifactUploader {
	return &ArtifactUploader{
		client:     client,
		bucket:     bucket,
		cdnBaseURL: strings.TrimRight(cdnBaseURL, "/"),
	}
}

// Upload stores body under key and returns its public URL.
func (u *ArtifactUploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", eris.Wrapf(err, "failed to upload %s to R2", key)
	}

	url := fmt.Sprintf("%s/%s", u.cdnBaseURL, key)
	log.Info().Str("key", key).Int("bytes", len(body)).Str("url", url).Msg("artifact uploaded")
	return url, nil
}
