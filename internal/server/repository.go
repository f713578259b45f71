package server

import (
	"context"
	"fmt"

	"github.com/signlearn/apiserver/config"
	"github.com/signlearn/apiserver/internal/db"
	"github.com/signlearn/apiserver/internal/services"
	"github.com/signlearn/apiserver/internal/store"
)

// CloseFunc releases a resource opened during startup.
type CloseFunc func(ctx context.Context) error

// OpenUserRepository connects the backend selected by DB_DRIVER.
func OpenUserRepository(ctx context.Context, cfg config.Config) (services.UserRepository, CloseFunc, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres, "":
		conn, err := db.Open(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store.NewUserRepository(conn), func(context.Context) error { return conn.Close() }, nil

	case config.DriverMongo:
		client, database, err := db.OpenMongo(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		repo := store.NewMongoUserRepository(database)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, client.Disconnect, nil

	case config.DriverMemory:
		return store.NewMemoryUserRepository(), func(context.Context) error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
