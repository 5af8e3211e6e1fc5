package repository

import (
	"context"
	"fmt"

	"permission_service/internal/database/mongo"
)

type Repositories struct {
	GrantRepository      *GrantRepository
	TemplateRepository   *TemplateRepository
	AuditRepository      *AuditRepository
	PortalUserRepository *PortalUserRepository
	RedisRepository      *RedisRepo
}

var Repositories_instance = &Repositories{
	GrantRepository:      NewGrantRepository(mongo.Mongo_Database),
	TemplateRepository:   NewTemplateRepository(mongo.Mongo_Database),
	AuditRepository:      NewAuditRepository(mongo.Mongo_Database),
	PortalUserRepository: NewPortalUserRepository(mongo.Mongo_Database),
	RedisRepository:      NewRedisRepo(),
}

// EnsureIndexes creates every index the service relies on, in particular
// the active-triple unique index that backs idempotent grants.
func (r *Repositories) EnsureIndexes(ctx context.Context) error {
	if err := r.GrantRepository.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("grant indexes: %w", err)
	}
	if err := r.TemplateRepository.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("template indexes: %w", err)
	}
	if err := r.AuditRepository.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("audit indexes: %w", err)
	}
	return nil
}
