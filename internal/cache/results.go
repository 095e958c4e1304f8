package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/clauselens/clauselens/internal/types"
)

// RunResults stores the outcome of the last local analysis so reports can
// be re-rendered without re-running the pipeline.
type RunResults struct {
	RunID      string             `json:"run_id"`
	Identity   string             `json:"identity,omitempty"`
	State      string             `json:"state"`
	Snapshot   *types.Snapshot    `json:"snapshot,omitempty"`
	Findings   []types.Finding    `json:"findings"`
	Claims     []types.Claim      `json:"claims"`
	Risks      []types.Risk       `json:"risks"`
	Summary    *types.RiskSummary `json:"summary,omitempty"`
	Privileges []types.Privilege  `json:"privileges,omitempty"`
	Diff       *types.Diff        `json:"diff,omitempty"`
	Error      string             `json:"error,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

func resultsPath(root string) string {
	gitDir := filepath.Join(root, ".git")
	if st, err := os.Stat(gitDir); err == nil && st.IsDir() {
		return filepath.Join(gitDir, "clauselens_last_run.json")
	}
	return filepath.Join(root, ".clauselens_last_run.json")
}

// SaveResults writes results for root, stamping the time.
func SaveResults(root string, results RunResults) error {
	results.Timestamp = time.Now().UTC()
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(resultsPath(root), b, 0o644)
}

// LoadResults loads the last run saved for root.
func LoadResults(root string) (RunResults, error) {
	var results RunResults
	f, err := os.ReadFile(resultsPath(root))
	if err != nil {
		return results, err
	}
	if err := json.Unmarshal(f, &results); err != nil {
		return results, err
	}
	return results, nil
}
