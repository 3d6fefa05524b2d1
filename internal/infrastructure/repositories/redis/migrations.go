package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = keyPrefix + "schema:version"
	currentSchemaVersion = 1
)

// Migration is one forward step of the Redis keyspace layout.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
}

// Migrate runs every migration newer than the stored schema version.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if currentVersion >= currentSchemaVersion {
		logger.Debugw("Redis schema is up to date", "version", currentVersion)
		return nil
	}

	for _, migration := range migrations() {
		if migration.Version <= currentVersion {
			continue
		}
		logger.Infow("Running Redis migration", "version", migration.Version)
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := client.Set(ctx, schemaVersionKey, migration.Version, 0).Err(); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

func migrations() []Migration {
	return []Migration{
		{
			// Rebuild the active-call index from the call documents.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				iter := client.Scan(ctx, 0, callKeyPrefix+"*", 100).Iterator()
				for iter.Next(ctx) {
					key := iter.Val()
					if key == activeCallsKey {
						continue
					}
					data, err := client.Get(ctx, key).Bytes()
					if err == redis.Nil {
						continue
					}
					if err != nil {
						return err
					}
					call, err := decodeCall(data)
					if err != nil {
						return err
					}
					if call.Active() {
						if err := client.SAdd(ctx, activeCallsKey, string(call.ID)).Err(); err != nil {
							return err
						}
					}
				}
				return iter.Err()
			},
		},
	}
}
