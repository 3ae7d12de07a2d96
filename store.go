package main

import (
	"context"
	"fmt"

	"ljspush/config"
	"ljspush/hub"
	"ljspush/localstore"
	"ljspush/publish"
	"ljspush/s3store"
)

// openStore builds the dataset store selected by cfg.Store. The returned
// func releases it.
func openStore(ctx context.Context, cfg config.Config) (publish.DatasetStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case config.StoreHub:
		return hub.New(hub.WithEndpoint(cfg.Hub.Endpoint), hub.WithRevision(cfg.Hub.Revision)), noop, nil
	case config.StoreS3:
		client, err := s3store.NewClient(ctx, cfg.S3.Region, cfg.S3.Endpoint)
		if err != nil {
			return nil, noop, err
		}
		return s3store.New(client, cfg.S3.Bucket, cfg.S3.Prefix), noop, nil
	case config.StoreLocal:
		s, err := localstore.Open(cfg.Local.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
