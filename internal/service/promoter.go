package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"example.com/conditioning/internal/cache"
	"example.com/conditioning/internal/domain"
	"example.com/conditioning/internal/observability"
	"example.com/conditioning/internal/store"
)

// Promoter serves single-log reads from the cache and lazily upgrades cached
// overviews to full detail, writing the detailed version back so the second
// read is a pure cache hit. A detailed cached log is never downgraded.
type Promoter struct {
	cache  *cache.Cache
	token  *cache.Token
	logs   store.LogStore
	logger *log.Logger
}

// NewPromoter constructs a Promoter holding the cache mutation token.
func NewPromoter(c *cache.Cache, token *cache.Token, logs store.LogStore, logger *log.Logger) *Promoter {
	if logger == nil {
		logger = log.New(log.Writer(), "[promoter] ", log.LstdFlags)
	}
	return &Promoter{cache: c, token: token, logs: logs, logger: logger}
}

// Resolve returns the log with the given id from the user's cache entry,
// fetching and caching the detailed variant when only an overview is held. A
// log missing from the cache entirely falls through to a direct store fetch,
// covering logs created by another instance that have not converged here yet.
func (p *Promoter) Resolve(ctx context.Context, userID, logID string) (*domain.ConditioningLog, error) {
	for _, entry := range p.cache.Snapshot().Entries {
		if entry.UserID != userID {
			continue
		}
		for _, l := range entry.Logs {
			if l.EntityID != logID {
				continue
			}
			if !l.IsOverview {
				out := l
				return &out, nil
			}
			return p.promote(ctx, userID, logID)
		}
		break
	}

	detailed, err := p.fetchDetail(ctx, logID)
	if err != nil {
		return nil, err
	}
	if detailed.UserID != userID {
		return nil, fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
	}
	return detailed, nil
}

func (p *Promoter) promote(ctx context.Context, userID, logID string) (*domain.ConditioningLog, error) {
	detailed, err := p.fetchDetail(ctx, logID)
	if err != nil {
		return nil, err
	}
	if err := p.cache.UpsertLog(p.token, userID, *detailed); err != nil {
		// The read still succeeds; only the cached variant stays an overview.
		p.logger.Printf("caching detailed log %s failed: %v", logID, err)
	} else {
		observability.RecordPromotion()
	}
	return detailed, nil
}

func (p *Promoter) fetchDetail(ctx context.Context, logID string) (*domain.ConditioningLog, error) {
	detailed, err := p.logs.FetchByID(ctx, logID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: log %s", domain.ErrNotFound, logID)
		}
		return nil, fmt.Errorf("%w: fetch log %s: %v", domain.ErrPersistence, logID, err)
	}
	return detailed, nil
}
