// Package hubspot implements the CRM adapter against the HubSpot CRM v3 API.
package hubspot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"CrmSync/internal/adapter"
	"CrmSync/internal/config"
	"CrmSync/internal/interfaces"
	"CrmSync/internal/metrics"
	"CrmSync/internal/model"
	"CrmSync/internal/utils/httpclient"
)

const Name = "hubspot"

func init() {
	adapter.Register(Name, New)
}

// properties requested per object type; the list endpoint returns only a
// default subset otherwise.
var properties = map[model.ObjectType][]string{
	model.ObjectContacts: {
		"firstname", "lastname", "email", "company", "lifecyclestage",
		model.PropPhone, model.PropMobilePhone, model.PropOwnerID,
	},
	model.ObjectDeals: {
		"dealname", "pipeline", model.PropDealStage, model.PropAmount,
		model.PropCloseDate, model.PropOwnerID,
	},
	model.ObjectCalls: {
		"hs_call_title", "hs_call_direction", "hs_call_status", "hs_call_duration",
		"hs_call_from_number", model.PropCallToNumber, model.PropCallTime, model.PropOwnerID,
	},
}

// lastModifiedProperty is the search filter/sort property per object type.
func lastModifiedProperty(t model.ObjectType) string {
	if t == model.ObjectContacts {
		return "lastmodifieddate"
	}
	return "hs_lastmodifieddate"
}

type Adapter struct {
	cfg        *config.CRMConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	clock      quartz.Clock
}

// New is the registered factory.
func New(cfg *config.CRMConfig, logger *logrus.Logger, m *metrics.Metrics, clock quartz.Clock) (interfaces.CRMAdapter, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("crm.access_token is empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("crm.base_url: %w", err)
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Adapter{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpclient.NewHTTPClient(cfg, logger),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		logger:     logger,
		metrics:    m,
		clock:      clock,
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) FetchPage(ctx context.Context, objectType model.ObjectType, req model.PageRequest) (*model.CrmPage, error) {
	if !objectType.Valid() {
		return nil, fmt.Errorf("unknown object type %q", objectType)
	}
	limit := clamp(req.PageSize, a.cfg.PageSize, config.MaxCRMPageSize)

	var resp model.CrmPageResponse
	var err error
	if req.Since.IsZero() {
		err = a.list(ctx, objectType, req.After, limit, &resp)
	} else {
		err = a.search(ctx, objectType, req, limit, &resp)
	}
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"object_type": objectType,
		"after":       req.After,
		"items":       len(resp.Results),
	}).Debug("crm page fetched")
	return &model.CrmPage{Items: resp.Results, NextAfter: resp.NextAfter()}, nil
}

func (a *Adapter) list(ctx context.Context, objectType model.ObjectType, after string, limit int, out *model.CrmPageResponse) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("archived", "false")
	q.Set("properties", strings.Join(properties[objectType], ","))
	if after != "" {
		q.Set("after", after)
	}
	path := fmt.Sprintf("/crm/v3/objects/%s?%s", objectType, q.Encode())
	return a.do(ctx, "list "+string(objectType), http.MethodGet, path, nil, out)
}

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Sorts        []searchSort  `json:"sorts"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

func (a *Adapter) search(ctx context.Context, objectType model.ObjectType, req model.PageRequest, limit int, out *model.CrmPageResponse) error {
	prop := lastModifiedProperty(objectType)
	body := searchRequest{
		FilterGroups: []filterGroup{{Filters: []searchFilter{{
			PropertyName: prop,
			Operator:     "GTE",
			Value:        strconv.FormatInt(req.Since.UTC().UnixMilli(), 10),
		}}}},
		Sorts:      []searchSort{{PropertyName: prop, Direction: "ASCENDING"}},
		Properties: properties[objectType],
		Limit:      limit,
		After:      req.After,
	}

	path := fmt.Sprintf("/crm/v3/objects/%s/search", objectType)
	return a.do(ctx, "search "+string(objectType), http.MethodPost, path, body, out)
}

type batchInput struct {
	ID string `json:"id"`
}

type batchReadRequest struct {
	Inputs []batchInput `json:"inputs"`
}

func (a *Adapter) FetchAssociations(ctx context.Context, objectType model.ObjectType, sourceIDs []string, targetType model.ObjectType) (map[string][]model.AssociationTarget, error) {
	out := make(map[string][]model.AssociationTarget)
	if len(sourceIDs) == 0 {
		return out, nil
	}
	size := clamp(a.cfg.BatchSize, config.MaxCRMBatchSize, config.MaxCRMBatchSize)
	concurrency := a.cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	path := fmt.Sprintf("/crm/v3/associations/%s/%s/batch/read", objectType, targetType)
	op := fmt.Sprintf("associations %s->%s", objectType, targetType)

	for start := 0; start < len(sourceIDs); start += size {
		end := min(start+size, len(sourceIDs))
		chunk := sourceIDs[start:end]
		g.Go(func() error {
			req := batchReadRequest{Inputs: make([]batchInput, len(chunk))}
			for i, id := range chunk {
				req.Inputs[i] = batchInput{ID: id}
			}
			var resp model.AssociationBatchResponse
			if err := a.do(gctx, op, http.MethodPost, path, req, &resp); err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range resp.Results {
				if r.From.ID == "" || len(r.To) == 0 {
					continue
				}
				out[r.From.ID] = append(out[r.From.ID], r.To...)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"object_type": objectType,
		"target_type": targetType,
		"sources":     len(sourceIDs),
		"linked":      len(out),
	}).Debug("crm associations fetched")
	return out, nil
}

// clamp returns want, or fallback when want is unset, never above limit.
func clamp(want, fallback, limit int) int {
	if want <= 0 {
		want = fallback
	}
	if want <= 0 || want > limit {
		return limit
	}
	return want
}
