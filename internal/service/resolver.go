package service

import (
	"context"
	"fmt"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"

	"CrmSync/internal/interfaces"
	"CrmSync/internal/model"
	"CrmSync/internal/repository"
)

// AssociationResolver mirrors the CRM links of freshly synced objects.
// Links are only added: a link missing from a CRM response is not evidence
// that it was removed.
type AssociationResolver struct {
	crm    interfaces.CRMAdapter
	repo   repository.AssociationRepository
	clock  quartz.Clock
	logger *logrus.Logger
}

func NewAssociationResolver(crm interfaces.CRMAdapter, repo repository.AssociationRepository, clock quartz.Clock, logger *logrus.Logger) *AssociationResolver {
	return &AssociationResolver{crm: crm, repo: repo, clock: clock, logger: logger}
}

// Resolve fetches and stores the links of ids for every target type of
// objectType. It returns the number of links the CRM reported.
func (r *AssociationResolver) Resolve(ctx context.Context, objectType model.ObjectType, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	resolved := 0
	now := r.clock.Now().UTC()
	for _, target := range objectType.AssociationTargets() {
		found, err := r.crm.FetchAssociations(ctx, objectType, ids, target)
		if err != nil {
			return resolved, fmt.Errorf("resolve %s->%s: %w", objectType, target, err)
		}

		seen := make(map[model.Association]struct{})
		var links []*model.Association
		for _, src := range ids {
			for _, to := range found[src] {
				if to.ID == "" {
					continue
				}
				link := model.Association{
					SourceType:      objectType,
					SourceID:        src,
					TargetType:      target,
					TargetID:        to.ID,
					AssociationType: to.Type,
				}
				if _, dup := seen[link]; dup {
					continue
				}
				seen[link] = struct{}{}
				link.CreatedAt = now
				links = append(links, &link)
			}
		}

		inserted, err := r.repo.Insert(ctx, links)
		if err != nil {
			return resolved, err
		}
		resolved += len(links)
		r.logger.WithFields(logrus.Fields{
			"object_type": objectType,
			"target_type": target,
			"links":       len(links),
			"new":         inserted,
		}).Debug("associations resolved")
	}
	return resolved, nil
}
