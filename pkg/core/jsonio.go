package core

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/clauselens/clauselens/internal/cache"
	"github.com/clauselens/clauselens/internal/pipeline"
)

// MarshalResults pretty-prints run results as JSON for humans or pipelines.
func MarshalResults(w io.Writer, res Results) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// UnmarshalResults decodes results JSON, useful for ingestion tests.
func UnmarshalResults(r io.Reader) (Results, error) {
	var res Results
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return Results{}, err
	}
	return res, nil
}

// SaveLast records res as the last run for the project at root.
func SaveLast(root string, res Results) error {
	rr := cache.RunResults{
		RunID:      res.RunID,
		Identity:   res.Identity,
		State:      string(res.State),
		Snapshot:   res.Snapshot,
		Findings:   res.Findings,
		Claims:     res.Claims,
		Risks:      res.Risks,
		Summary:    res.Summary,
		Privileges: res.Privileges,
		Diff:       res.Diff,
	}
	if res.Error != nil {
		rr.Error = res.Error.Message
	}
	return cache.SaveResults(root, rr)
}

// LoadLast returns the last run saved for root.
func LoadLast(root string) (Results, error) {
	rr, err := cache.LoadResults(root)
	if err != nil {
		return Results{}, err
	}
	res := Results{
		RunID:      rr.RunID,
		Identity:   rr.Identity,
		State:      pipeline.State(rr.State),
		Snapshot:   rr.Snapshot,
		Findings:   rr.Findings,
		Claims:     rr.Claims,
		Risks:      rr.Risks,
		Summary:    rr.Summary,
		Privileges: rr.Privileges,
		Diff:       rr.Diff,
	}
	if rr.Error != "" {
		res.Error = &pipeline.RunError{Stage: res.State, Message: rr.Error}
	}
	if !res.State.Terminal() {
		return Results{}, fmt.Errorf("saved run %s is %q, not terminal", rr.RunID, rr.State)
	}
	return res, nil
}

// ImportLast loads the last saved run for root into the engine so a new
// run can diff against it. It returns the imported run id.
func (e *Engine) ImportLast(root string) (string, error) {
	res, err := LoadLast(root)
	if err != nil {
		return "", err
	}
	if _, err := e.Status(res.RunID); err == nil {
		return res.RunID, nil
	}
	if err := e.Import(res); err != nil {
		return "", err
	}
	return res.RunID, nil
}
