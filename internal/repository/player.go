package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/neonarcade/tictactoe-backend/internal/apperror"
	"github.com/neonarcade/tictactoe-backend/internal/entity"
)

const identityTTL = 24 * time.Hour

// PlayerRepository keeps resolved identities (registered or guest) so a
// reconnecting socket can be mapped back to the same stable identity.
type PlayerRepository interface {
	CreateOrUpdate(ctx context.Context, identity *entity.Identity) error
	GetByID(ctx context.Context, id string) (*entity.Identity, error)
}

type dbPlayer struct {
	client *redis.Client
}

func NewPlayerRepository(client *redis.Client) PlayerRepository {
	return &dbPlayer{
		client: client,
	}
}

func (that *dbPlayer) CreateOrUpdate(ctx context.Context, identity *entity.Identity) error {
	identityJSON, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	identityKey := "player:" + identity.ID
	if err = that.client.Set(ctx, identityKey, identityJSON, identityTTL).Err(); err != nil {
		return fmt.Errorf("failed to set identity: %w", err)
	}

	return nil
}

func (that *dbPlayer) GetByID(ctx context.Context, id string) (*entity.Identity, error) {
	identityKey := "player:" + id

	response, err := that.client.Get(ctx, identityKey).Result()

	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: player %s", apperror.ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get identity by ID: %w", err)
	}

	var identity entity.Identity
	if err = json.Unmarshal([]byte(response), &identity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}

	return &identity, nil
}
