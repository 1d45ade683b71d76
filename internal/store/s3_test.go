package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	u "certforge/internal/utils"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func writeTempPDF(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o640))
	return path
}

func TestS3StorePersist_UploadsUnderPrefix(t *testing.T) {
	fake := &fakeS3{}
	s := NewS3Store(fake, "certs-bucket", "certificates/")
	src := writeTempPDF(t, "certificate_cs101-7.pdf", []byte("%PDF-1.4 body"))

	ref, err := s.Persist(context.Background(), src, "cs101-7")
	require.NoError(t, err)

	require.NotNil(t, fake.input)
	assert.Equal(t, "certs-bucket", *fake.input.Bucket)
	assert.Equal(t, "certificates/certificate_cs101-7.pdf", *fake.input.Key)
	assert.Equal(t, "application/pdf", *fake.input.ContentType)

	body, err := io.ReadAll(fake.input.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 body"), body)

	assert.Equal(t, "https://certs-bucket.s3.us-east-1.amazonaws.com/certificates/certificate_cs101-7.pdf", ref)
}

func TestS3StorePersist_CustomEndpointURL(t *testing.T) {
	fake := &fakeS3{}
	s := NewS3Store(fake, "certs", "")
	s.endpoint = "http://minio:9000/"
	src := writeTempPDF(t, "certificate_x.pdf", []byte("pdf"))

	ref, err := s.Persist(context.Background(), src, "x")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/certs/certificate_x.pdf", ref)
}

func TestS3StorePersist_RegionInURL(t *testing.T) {
	fake := &fakeS3{}
	s := NewS3Store(fake, "certs", "")
	s.region = "eu-central-1"
	src := writeTempPDF(t, "certificate_y.pdf", []byte("pdf"))

	ref, err := s.Persist(context.Background(), src, "y")
	require.NoError(t, err)
	assert.Equal(t, "https://certs.s3.eu-central-1.amazonaws.com/certificate_y.pdf", ref)
}

func TestS3StorePersist_PutError(t *testing.T) {
	cause := errors.New("access denied")
	s := NewS3Store(&fakeS3{err: cause}, "certs", "")
	src := writeTempPDF(t, "certificate_z.pdf", []byte("pdf"))

	_, err := s.Persist(context.Background(), src, "z")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "s3 put")
}

func TestS3StorePersist_MissingSource(t *testing.T) {
	s := NewS3Store(&fakeS3{}, "certs", "")
	_, err := s.Persist(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), "nope")
	assert.Error(t, err)
}

func TestFactoryDefaultsToLocal(t *testing.T) {
	var cfg u.Config
	cfg.Storage.Mode = "ftp"
	cfg.Storage.Dir = t.TempDir()

	s, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
}

func TestFactoryLocalMode(t *testing.T) {
	var cfg u.Config
	cfg.Storage.Mode = "local"
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "out")

	s, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)
}
