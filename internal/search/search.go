package search

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/savage-app/savage/config"
	"github.com/savage-app/savage/internal/storage"
	"github.com/savage-app/savage/types"
)

const (
	BackendAlgolia = "algolia"
	BackendStorage = "storage"
	BackendNone    = "none"
)

// Record is one username entry in the index.
type Record struct {
	ObjectID string `json:"objectID"`
	Username string `json:"username"`
}

// Index replaces-or-saves records by objectID.
type Index interface {
	SaveObjects(ctx context.Context, records []Record) error
	Name() string
}

// RecordsFromUsernames converts the store projection to index records.
func RecordsFromUsernames(users []types.UsernameRecord) []Record {
	records := make([]Record, 0, len(users))
	for _, u := range users {
		records = append(records, Record{ObjectID: strconv.Itoa(u.ID), Username: u.Username})
	}
	return records
}

// Open builds the index selected by cfg.Backend. The storage backend needs
// a non-nil object store.
func Open(cfg config.SearchConfig, objects *storage.Storage, log zerolog.Logger) (Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendAlgolia:
		return NewAlgoliaIndex(cfg.AlgoliaAppID, cfg.AlgoliaAPIKey, cfg.Index)
	case BackendStorage:
		if objects == nil {
			return nil, fmt.Errorf("search backend %q requires STORAGE_BACKEND", BackendStorage)
		}
		return NewSnapshotIndex(objects, cfg.Index), nil
	case BackendNone, "":
		return NewNopIndex(cfg.Index, log), nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}
}

// NopIndex drops records.
type NopIndex struct {
	name string
	log  zerolog.Logger
}

func NewNopIndex(name string, log zerolog.Logger) *NopIndex {
	return &NopIndex{name: name, log: log}
}

func (n *NopIndex) SaveObjects(_ context.Context, records []Record) error {
	n.log.Debug().Str("index", n.name).Int("records", len(records)).Msg("search disabled, records dropped")
	return nil
}

func (n *NopIndex) Name() string {
	return n.name
}
