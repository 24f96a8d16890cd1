package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smileynet/plantree/internal/nitrate"
	"github.com/smileynet/plantree/internal/plan"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"not found", fmt.Errorf("%w: plans/?pk=9", nitrate.ErrNotFound), plan.ErrNotFound},
		{"unchanged", nitrate.ErrUnchanged, plan.ErrConflict},
		{"server", fmt.Errorf("%w: 500", nitrate.ErrServer), plan.ErrNetwork},
		{"transport", context.DeadlineExceeded, plan.ErrNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("classify(%v) should keep the original error", tt.in)
			}
		})
	}
}

func TestToRecord(t *testing.T) {
	parent := 2
	p := nitrate.Plan{ID: 3, Parent: &parent, Name: "Login", IsActive: true, NumChildren: 2, NumCases: 14, NumRuns: 1}

	r := toRecord(p)

	want := plan.Record{ID: 3, ParentID: 2, Name: "Login", Active: true, NumChildren: 2, NumCases: 14, NumRuns: 1}
	if r != want {
		t.Errorf("toRecord() = %+v, want %+v", r, want)
	}
	if got := toRecord(nitrate.Plan{ID: 1}); got.HasParent() {
		t.Error("nil parent should map to a root record")
	}
}

func TestNitrateSource_UnchangedUpdate(t *testing.T) {
	// Given: plan 3 already sits under 2
	e, _ := testEnv(t)

	// When: the same parent is written through the adapter
	err := e.src.UpdateField(context.Background(), plan.FieldUpdate{
		ContentType: "testplans.testplan",
		ObjectID:    3,
		Field:       "parent",
		Value:       "2",
	})

	// Then: the server's "nothing changed" becomes an informational conflict
	if !plan.IsInformational(err) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}
