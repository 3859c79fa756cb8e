package replicator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyendpoints "github.com/aws/smithy-go/endpoints"
)

// Remote replicates archives to an S3-compatible bucket using
// aws-sdk-go-v2. It does not expose object checksums:
// Checksum always returns ok=false.
type Remote struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// RemoteOptions configures a Remote replicator. Credentials and
// endpoint follow the fallback chain already resolved by the config
// package (config field → S3_* env → AWS_* env).
type RemoteOptions struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewRemote builds a Remote replicator from opts. Missing credentials
// are fatal
func NewRemote(ctx context.Context, opts RemoteOptions) (*Remote, error) {
	if opts.Bucket == "" {
		return nil, errors.New("replicator: remote bucket is required")
	}
	if opts.AccessKeyID == "" || opts.SecretAccessKey == "" {
		return nil, errors.New("replicator: remote credentials are required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("replicator: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		s3Opts = append(s3Opts, s3.WithEndpointResolverV2(staticEndpointResolver{endpoint: endpoint}))
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &Remote{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

func (r *Remote) Save(ctx context.Context, sourcePath, archiveName, sourceGrouping string) (string, string, error) {
	key := ComposeKey(r.prefix, sourceGrouping, archiveName)

	f, err := os.Open(sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("replicator: open source: %w", err)
	}
	defer f.Close()

	_, err = r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &r.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return "", "", fmt.Errorf("replicator: upload: %w", err)
	}

	ok, err := r.Exists(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("replicator: verify upload: %w", err)
	}
	if !ok {
		return "", "", fmt.Errorf("replicator: upload verification failed for key %q", key)
	}

	return key, "", nil
}

func (r *Remote) Delete(ctx context.Context, location string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &r.bucket,
		Key:    &location,
	})
	if err != nil {
		return fmt.Errorf("replicator: delete remote: %w", err)
	}
	return nil
}

func (r *Remote) Exists(ctx context.Context, location string) (bool, error) {
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &r.bucket,
		Key:    &location,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Checksum always reports ok=false: the remote backend does not
// expose object checksums.
func (r *Remote) Checksum(ctx context.Context, location string) (string, bool, error) {
	return "", false, nil
}

func isNotFound(err error) bool {
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}

// staticEndpointResolver points the S3 client at a fixed endpoint,
// used for S3-compatible backends configured via remote.endpoint.
type staticEndpointResolver struct {
	endpoint string
}

func (r staticEndpointResolver) ResolveEndpoint(ctx context.Context, params s3.EndpointParameters) (smithyendpoints.Endpoint, error) {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return smithyendpoints.Endpoint{}, fmt.Errorf("replicator: parse remote endpoint: %w", err)
	}
	return smithyendpoints.Endpoint{URI: *u}, nil
}
