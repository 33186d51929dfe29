package interfaces

import (
	"context"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/config"
	"CrmSync/internal/metrics"
	"CrmSync/internal/model"
)

// CRMAdapter is the read-only client every CRM provider implements.
type CRMAdapter interface {
	Name() string
	// FetchPage returns one page of objects. When req.Since is set only objects
	// modified at or after it are returned, oldest first.
	FetchPage(ctx context.Context, objectType model.ObjectType, req model.PageRequest) (*model.CrmPage, error)
	// FetchAssociations returns, per source id, the linked objects of targetType.
	// Sources without links are absent from the map.
	FetchAssociations(ctx context.Context, objectType model.ObjectType, sourceIDs []string, targetType model.ObjectType) (map[string][]model.AssociationTarget, error)
}

// Factory builds a CRMAdapter from configuration. clock times retry hints.
type Factory func(cfg *config.CRMConfig, logger *logrus.Logger, m *metrics.Metrics, clock quartz.Clock) (CRMAdapter, error)
