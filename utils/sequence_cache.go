package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"dealflow/config"
	"dealflow/models"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SequenceCache is a read-through cache for sequence definitions and their
// steps. The scheduler hits it on every tick; sequence writes invalidate.
// With Redis disabled it degrades to direct DB reads.
type SequenceCache struct {
	DB     *gorm.DB
	Logger *log.Logger

	client *redis.Client
	ttl    time.Duration
}

func NewSequenceCache(db *gorm.DB, cfg config.RedisConfig, logger *log.Logger) *SequenceCache {
	sc := &SequenceCache{
		DB:     db,
		Logger: logger,
		ttl:    5 * time.Minute,
	}

	if cfg.Enabled {
		sc.client = redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	return sc
}

func sequenceCacheKey(sequenceID uint) string {
	return fmt.Sprintf("sequence:%d", sequenceID)
}

// Get returns the sequence with its steps ordered by step_order
func (sc *SequenceCache) Get(ctx context.Context, sequenceID uint) (*models.Sequence, error) {
	if sc.client != nil {
		cached, err := sc.client.Get(ctx, sequenceCacheKey(sequenceID)).Bytes()
		if err == nil {
			var sequence models.Sequence
			if err := json.Unmarshal(cached, &sequence); err == nil {
				return &sequence, nil
			}
			// Corrupt entry; fall through to the DB and rewrite it
		} else if err != redis.Nil {
			sc.Logger.Printf("Sequence cache read failed: %v", err)
		}
	}

	var sequence models.Sequence
	err := sc.DB.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_order ASC")
	}).First(&sequence, sequenceID).Error
	if err != nil {
		return nil, err
	}

	if sc.client != nil {
		if data, err := json.Marshal(sequence); err == nil {
			if err := sc.client.Set(ctx, sequenceCacheKey(sequenceID), data, sc.ttl).Err(); err != nil {
				sc.Logger.Printf("Sequence cache write failed: %v", err)
			}
		}
	}

	return &sequence, nil
}

// Invalidate drops the cached entry after a sequence or step write
func (sc *SequenceCache) Invalidate(ctx context.Context, sequenceID uint) {
	if sc.client == nil {
		return
	}
	if err := sc.client.Del(ctx, sequenceCacheKey(sequenceID)).Err(); err != nil {
		sc.Logger.Printf("Sequence cache invalidation failed: %v", err)
	}
}
