package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Export serializes the local database in the SQLite file format.
func (rt *Runtime) Export(ctx context.Context) ([]byte, error) {
	if _, err := rt.ready(); err != nil {
		return nil, err
	}
	return rt.store.Export(ctx)
}

// ExportTo writes the serialized local database to uri: a file path,
// a file:// URL, or s3://bucket/key. An empty uri uses the configured
// export location.
func (rt *Runtime) ExportTo(ctx context.Context, uri string) error {
	if uri == "" {
		uri = rt.cfg.Export.URI
	}
	if uri == "" {
		return errors.New("export: no destination configured")
	}
	data, err := rt.Export(ctx)
	if err != nil {
		return err
	}

	if bucket, key, ok, err := parseS3URI(uri); ok || err != nil {
		if err != nil {
			return err
		}
		return rt.putS3(ctx, bucket, key, data)
	}
	path := strings.TrimPrefix(uri, "file://")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	rt.logger.Info("database exported", "path", path, "bytes", len(data))
	return nil
}

// parseS3URI splits s3://bucket/key. ok is false for other schemes.
func parseS3URI(uri string) (bucket, key string, ok bool, err error) {
	if !strings.HasPrefix(uri, "s3://") {
		return "", "", false, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", true, fmt.Errorf("export: %w", err)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", true, fmt.Errorf("export: %q needs a bucket and a key", uri)
	}
	return u.Host, key, true, nil
}

func (rt *Runtime) putS3(ctx context.Context, bucket, key string, data []byte) error {
	var opts []func(*awsconfig.LoadOptions) error
	if rt.cfg.Export.Region != "" {
		opts = append(opts, awsconfig.WithRegion(rt.cfg.Export.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if ep := rt.cfg.Export.Endpoint; ep != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(ep)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return fmt.Errorf("S3 put object failed: %w", err)
	}
	rt.logger.Info("database exported", "bucket", bucket, "key", key, "bytes", len(data))
	return nil
}
