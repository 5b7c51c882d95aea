package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmcleod/signpad/storage"
	bboltstorage "github.com/jmcleod/signpad/storage/bbolt"
	"github.com/jmcleod/signpad/storage/memory"
	"github.com/jmcleod/signpad/storage/postgres"
	redisstorage "github.com/jmcleod/signpad/storage/redis"
)

var (
	storeKind     string
	dataDir       string
	postgresDSN   string
	redisAddr     string
	redisPassword string
	redisDB       int
)

// openRepository opens the backend selected by --store. The returned func
// releases it.
func openRepository(ctx context.Context) (storage.Repository, func(), error) {
	switch storeKind {
	case "memory":
		return memory.NewRepository(), func() {}, nil
	case "bbolt", "":
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "signpad.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case "postgres":
		if postgresDSN == "" {
			return nil, nil, fmt.Errorf("--postgres-dsn is required with --store postgres")
		}
		repo, err := postgres.NewRepositoryFromDSN(ctx, postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "redis":
		repo, err := redisstorage.NewRepositoryFromAddr(ctx, redisAddr, redisPassword, redisDB)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q (want bbolt, memory, postgres or redis)", storeKind)
	}
}
