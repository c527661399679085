package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/tubeblog/internal/config"
)

// Usage outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// UsageRecord is the token usage and cost of one generation request.
type UsageRecord struct {
	ID           string
	Timestamp    time.Time
	UserID       string
	PostID       string
	Model        string
	Provider     string // "openai", "anthropic", "ollama"
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Outcome      string
}

// UsageSummary holds aggregated token usage and cost totals.
type UsageSummary struct {
	TotalRecords      int     `json:"total_records"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// RecordUsage appends a usage record. If rec.ID is empty a UUIDv7 is
// generated.
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Outcome == "" {
		rec.Outcome = OutcomeOK
	}

	_, err := s.exec(ctx, s.db,
		`INSERT INTO usage_records
			(id, timestamp, user_id, post_id, model, provider,
			 input_tokens, output_tokens, cost_usd, outcome)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		formatTime(rec.Timestamp),
		rec.UserID,
		rec.PostID,
		rec.Model,
		rec.Provider,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// UsageSummary returns userID's totals for records within [start, end).
func (s *Store) UsageSummary(ctx context.Context, userID string, start, end time.Time) (*UsageSummary, error) {
	row := s.queryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE user_id = ? AND timestamp >= ? AND timestamp < ?`,
		userID, formatTime(start), formatTime(end),
	)

	var sum UsageSummary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// UsageByModel returns userID's per-model totals within [start, end).
func (s *Store) UsageByModel(ctx context.Context, userID string, start, end time.Time) (map[string]*UsageSummary, error) {
	rows, err := s.query(ctx,
		`SELECT model, COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
		 GROUP BY model`,
		userID, formatTime(start), formatTime(end),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by model: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*UsageSummary)
	for rows.Next() {
		var model string
		var sum UsageSummary
		if err := rows.Scan(&model, &sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage by model: %w", err)
		}
		result[model] = &sum
	}
	return result, rows.Err()
}

// ComputeCost calculates the USD cost for a model's token usage based
// on the pricing table. Models not in the table are treated as free.
func ComputeCost(model string, inputTokens, outputTokens int, pricing map[string]config.PricingEntry) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens) / 1_000_000.0 * entry.InputPerMillion
	cost += float64(outputTokens) / 1_000_000.0 * entry.OutputPerMillion
	return cost
}
