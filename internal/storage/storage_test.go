package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/savage-app/savage/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	mu      sync.Mutex
	bucket  string
	ensured bool
	objects map[string][]byte
	types   map[string]string
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{bucket: "test", objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memoryBackend) EnsureBucket(context.Context) error {
	m.ensured = true
	return nil
}

func (m *memoryBackend) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memoryBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryBackend) Bucket() string { return m.bucket }

func TestStorageDelegates(t *testing.T) {
	backend := newMemoryBackend()
	s := NewStorage(backend)
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.True(t, backend.ensured)
	assert.Equal(t, "test", s.Bucket())

	require.NoError(t, s.Put(ctx, "search/users.json", strings.NewReader(`[]`), 2, "application/json"))
	assert.Equal(t, "application/json", backend.types["search/users.json"])

	rc, err := s.Get(ctx, "search/users.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "[]", string(data))

	require.NoError(t, s.Delete(ctx, "search/users.json"))
	_, err = s.Get(ctx, "search/users.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenWithoutBackend(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "floppy"})
	assert.Error(t, err)
}

func TestNewMinioClientRequiresBucket(t *testing.T) {
	_, err := NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "key", SecretKey: "secret"})
	assert.Error(t, err)
}
