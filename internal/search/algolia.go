package search

import (
	"context"
	"errors"
	"strings"

	algolia "github.com/algolia/algoliasearch-client-go/v3/algolia/search"
)

// AlgoliaIndex writes records to a hosted Algolia index.
type AlgoliaIndex struct {
	index *algolia.Index
}

func NewAlgoliaIndex(appID, apiKey, name string) (*AlgoliaIndex, error) {
	if strings.TrimSpace(appID) == "" || strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("algolia app id and api key are required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("algolia index name is required")
	}

	client := algolia.NewClient(appID, apiKey)
	return &AlgoliaIndex{index: client.InitIndex(name)}, nil
}

// SaveObjects upserts records and waits for the indexing task to finish.
func (a *AlgoliaIndex) SaveObjects(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	res, err := a.index.SaveObjects(records, ctx)
	if err != nil {
		return err
	}
	return res.Wait(ctx)
}

func (a *AlgoliaIndex) Name() string {
	return a.index.GetName()
}
