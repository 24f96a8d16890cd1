package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/smileynet/plantree/internal/nitrate"
	"github.com/smileynet/plantree/internal/plan"
)

// nitrateSource adapts nitrate.Client to plan.Source, translating the
// client's wire-level errors into the plan error taxonomy.
type nitrateSource struct {
	client *nitrate.Client
}

var _ plan.Source = (*nitrateSource)(nil)

func (s *nitrateSource) Plan(ctx context.Context, id int) (plan.Record, error) {
	p, err := s.client.Plan(ctx, id)
	if err != nil {
		return plan.Record{}, classify(err)
	}
	return toRecord(p), nil
}

func (s *nitrateSource) Children(ctx context.Context, parentID int) ([]plan.Record, error) {
	plans, err := s.client.Children(ctx, parentID)
	if err != nil {
		return nil, classify(err)
	}
	records := make([]plan.Record, len(plans))
	for i, p := range plans {
		records[i] = toRecord(p)
	}
	return records, nil
}

func (s *nitrateSource) UpdateField(ctx context.Context, u plan.FieldUpdate) error {
	err := s.client.UpdateField(ctx, nitrate.Update{
		ContentType: u.ContentType,
		ObjectID:    u.ObjectID,
		Field:       u.Field,
		Value:       u.Value,
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func toRecord(p nitrate.Plan) plan.Record {
	return plan.Record{
		ID:          p.ID,
		ParentID:    p.ParentID(),
		Name:        p.Name,
		URL:         p.URL,
		Active:      p.IsActive,
		NumChildren: p.NumChildren,
		NumCases:    p.NumCases,
		NumRuns:     p.NumRuns,
	}
}

// classify keeps the client's message and adds the matching plan sentinel.
func classify(err error) error {
	switch {
	case errors.Is(err, nitrate.ErrNotFound):
		return fmt.Errorf("%w: %w", plan.ErrNotFound, err)
	case errors.Is(err, nitrate.ErrUnchanged):
		return fmt.Errorf("%w: %w", plan.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %w", plan.ErrNetwork, err)
	}
}
