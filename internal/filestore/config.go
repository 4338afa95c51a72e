package filestore

import "github.com/koustreak/reshape/internal/errs"

// Provider names an object storage backend. MinIO is the only one;
// any S3-compatible endpoint works through it.
type Provider string

const ProviderMinIO Provider = "minio"

// Config locates the bucket that snapshots are written to.
type Config struct {
	Provider  Provider
	Endpoint  string // host:port, e.g. localhost:9000
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string // empty for MinIO; set for AWS S3
	Bucket    string // created on connect when missing
}

// DefaultConfig targets a MinIO server without TLS.
func DefaultConfig(endpoint, accessKey, secretKey, bucket string) *Config {
	return &Config{
		Provider:  ProviderMinIO,
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
	}
}

// Validate checks that the store can be addressed at all. Credentials are
// left to the server to reject.
func (c *Config) Validate() error {
	switch {
	case c.Provider != "" && c.Provider != ProviderMinIO:
		return errs.Newf(errs.ErrKindInvalidInput, "unknown object store provider %q", c.Provider)
	case c.Endpoint == "":
		return errs.New(errs.ErrKindInvalidInput, "object store endpoint is empty")
	case c.Bucket == "":
		return errs.New(errs.ErrKindInvalidInput, "object store bucket is empty")
	}
	return nil
}
