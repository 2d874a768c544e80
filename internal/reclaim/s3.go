package reclaim

import (
	"context"
	"fmt"
	"strings"

	"tracker-backend/internal/database"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	S3EndpointURL     string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
}

// S3Backend batch-deletes s3:// objects with DeleteObjects, grouped per
// bucket.
type S3Backend struct {
	client *s3.Client
}

var _ Backend = (*S3Backend)(nil)

func NewS3Backend(cfg *S3Config) (*S3Backend, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) { // nolint:staticcheck
		if cfg.S3EndpointURL != "" {
			return aws.Endpoint{ // nolint:staticcheck
				PartitionID:       "aws",
				URL:               cfg.S3EndpointURL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true, // Important for MinIO
			}, nil
		}
		// fallback to default AWS endpoint resolution
		return aws.Endpoint{}, &aws.EndpointNotFoundError{} // nolint:staticcheck
	})

	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.S3Region),
		aws_config.WithEndpointResolverWithOptions(resolver), // nolint:staticcheck
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true // path-style addressing, needed for MinIO
	})

	return &S3Backend{client: client}, nil
}

func (b *S3Backend) Name() string {
	return "AWS"
}

func (b *S3Backend) ChunkSize() int {
	return 1000
}

// GetPath strips the scheme, leaving "bucket/key".
func (b *S3Backend) GetPath(record database.UrlToDelete) (string, error) {
	path := strings.TrimPrefix(record.Url, "s3://")
	path = strings.Trim(path, "/")
	if bucket, key, ok := strings.Cut(path, "/"); !ok || bucket == "" || key == "" {
		return "", fmt.Errorf("no object key found following bucket name in %s", record.Url)
	}
	return path, nil
}

func (b *S3Backend) DeleteMany(ctx context.Context, paths []string) ([]string, map[string][]string, error) {
	perBucket := make(map[string][]string)
	for _, path := range paths {
		bucket, key, _ := strings.Cut(path, "/")
		perBucket[bucket] = append(perBucket[bucket], key)
	}

	var deleted []string
	failures := make(map[string][]string)
	for bucket, keys := range perBucket {
		objects := make([]types.ObjectIdentifier, len(keys))
		for i, key := range keys {
			objects[i] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		res, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("error deleting objects from bucket %s: %w", bucket, err)
		}

		for _, d := range res.Deleted {
			deleted = append(deleted, bucket+"/"+aws.ToString(d.Key))
		}
		for _, e := range res.Errors {
			msg := aws.ToString(e.Message)
			failures[msg] = append(failures[msg], bucket+"/"+aws.ToString(e.Key))
		}
	}

	return deleted, failures, nil
}
