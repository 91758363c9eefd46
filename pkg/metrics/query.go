// Package metrics reads token usage and decision outcomes back from Prometheus.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Usage is the aggregated token usage of a game run.
type Usage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI  v1.API
	namespace string
	now       func() time.Time
}

// NewQueryService creates a query service for series exported under namespace.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI:  v1.NewAPI(client),
		namespace: namespace,
		now:       time.Now,
	}, nil
}

func (q *QueryService) series(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// scalar runs an instant query and returns the first sample, or 0 for an empty result.
func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}

// GetUsage returns token usage summed over every model and actor.
func (q *QueryService) GetUsage(ctx context.Context) (*Usage, error) {
	return q.usage(ctx, "")
}

func (q *QueryService) usage(ctx context.Context, modelName string) (*Usage, error) {
	selector := func(extra string) string {
		labels := extra
		if modelName != "" {
			if labels != "" {
				labels += ", "
			}
			labels += fmt.Sprintf("model=%q", modelName)
		}
		return "{" + labels + "}"
	}

	u := &Usage{Model: modelName}
	var err error
	if u.PromptTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(%s%s)`, q.series("llm_tokens_total"), selector(`type="prompt"`))); err != nil {
		return nil, err
	}
	if u.CompletionTokens, err = q.scalar(ctx, fmt.Sprintf(`sum(%s%s)`, q.series("llm_tokens_total"), selector(`type="completion"`))); err != nil {
		return nil, err
	}
	if u.Requests, err = q.scalar(ctx, fmt.Sprintf(`sum(%s%s)`, q.series("llm_requests_total"), selector(""))); err != nil {
		return nil, err
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u, nil
}

// GetUsageByModel breaks usage down per model, sorted by model name.
func (q *QueryService) GetUsageByModel(ctx context.Context) ([]*Usage, error) {
	modelsQuery := fmt.Sprintf(`group by (model) (%s)`, q.series("llm_tokens_total"))
	result, _, err := q.queryAPI.Query(ctx, modelsQuery, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}
	sort.Strings(models)

	out := make([]*Usage, 0, len(models))
	for _, name := range models {
		u, err := q.usage(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// GetDecisionOutcomes returns decision counts keyed by outcome.
func (q *QueryService) GetDecisionOutcomes(ctx context.Context) (map[string]int64, error) {
	query := fmt.Sprintf(`sum by (outcome) (%s)`, q.series("decisions_total"))
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	out := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric["outcome"])] = int64(sample.Value)
		}
	}
	return out, nil
}
