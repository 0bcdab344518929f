package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
)

const snapshotPrefix = "search"

// objectStore is the subset of storage.Storage the snapshot index needs.
type objectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// SnapshotIndex keeps the whole index as one JSON document in the object
// store, for deployments without a hosted search service.
type SnapshotIndex struct {
	objects objectStore
	name    string
}

func NewSnapshotIndex(objects objectStore, name string) *SnapshotIndex {
	return &SnapshotIndex{objects: objects, name: name}
}

// Key returns the object key of the snapshot.
func (s *SnapshotIndex) Key() string {
	return path.Join(snapshotPrefix, s.name+".json")
}

// SaveObjects replaces the snapshot with records, ordered by numeric objectID.
func (s *SnapshotIndex) SaveObjects(ctx context.Context, records []Record) error {
	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, errA := strconv.Atoi(sorted[i].ObjectID)
		b, errB := strconv.Atoi(sorted[j].ObjectID)
		if errA != nil || errB != nil {
			return sorted[i].ObjectID < sorted[j].ObjectID
		}
		return a < b
	})

	data, err := json.Marshal(sorted)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, s.Key(), bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return fmt.Errorf("write snapshot %s: %w", s.Key(), err)
	}
	return nil
}

// Load reads the current snapshot.
func (s *SnapshotIndex) Load(ctx context.Context) ([]Record, error) {
	rc, err := s.objects.Get(ctx, s.Key())
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var records []Record
	if err := json.NewDecoder(rc).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.Key(), err)
	}
	return records, nil
}

func (s *SnapshotIndex) Name() string {
	return s.name
}
