package database

import (
	"github.com/crosswatch/crosswatch/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all model operations.
type Repository struct {
	incident *models.IncidentModel
	setting  *models.SettingModel
}

// NewRepository creates a repository with all model instances.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		incident: models.NewIncident(db, logger),
		setting:  models.NewSetting(db, logger),
	}
}

// Incident returns the incident model repository.
func (r *Repository) Incident() *models.IncidentModel {
	return r.incident
}

// Setting returns the guild setting model repository.
func (r *Repository) Setting() *models.SettingModel {
	return r.setting
}
