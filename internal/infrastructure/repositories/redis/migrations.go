package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const currentSchemaVersion = 2

type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, client redis.UniversalClient, keys keyspace) error
}

func schemaVersionKey(prefix string) string {
	return prefix + ":schema:version"
}

// Migrate brings the keyspace under prefix up to currentSchemaVersion.
func Migrate(ctx context.Context, client redis.UniversalClient, prefix string, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client, prefix)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	keys := newKeyspace(prefix)
	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration",
				"version", migration.Version,
				"description", migration.Description,
			)
		}
		if err := migration.Up(ctx, client, keys); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, prefix, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	if logger != nil {
		logger.Infow("all migrations completed", "final_version", currentSchemaVersion)
	}
	return nil
}

func getSchemaVersion(ctx context.Context, client redis.UniversalClient, prefix string) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey(prefix)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client redis.UniversalClient, prefix string, version int) error {
	return client.Set(ctx, schemaVersionKey(prefix), version, 0).Err()
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "drop index entries without a record",
			Up: func(ctx context.Context, client redis.UniversalClient, keys keyspace) error {
				return pruneIndex(ctx, client, keys, keys.index())
			},
		},
		{
			Version:     2,
			Description: "build recording index",
			Up: func(ctx context.Context, client redis.UniversalClient, keys keyspace) error {
				ids, err := client.SMembers(ctx, keys.index()).Result()
				if err != nil {
					return err
				}
				for _, id := range ids {
					record, err := loadRecord(ctx, client, keys.session(id))
					if err == redis.Nil {
						continue
					}
					if err != nil {
						return err
					}
					if record.Active() {
						if err := client.SAdd(ctx, keys.recording(), id).Err(); err != nil {
							return err
						}
					}
				}
				return nil
			},
		},
	}
}

func pruneIndex(ctx context.Context, client redis.UniversalClient, keys keyspace, set string) error {
	ids, err := client.SMembers(ctx, set).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		n, err := client.Exists(ctx, keys.session(id)).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := client.SRem(ctx, set, id).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
