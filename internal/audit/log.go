package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clauselens/clauselens/internal/types"
)

type RunRecord struct {
	Timestamp      time.Time         `json:"timestamp"`
	RunID          string            `json:"run_id"`
	Identity       string            `json:"identity"`
	State          string            `json:"state"`
	FailedStage    string            `json:"failed_stage,omitempty"`
	Error          string            `json:"error,omitempty"`
	Verification   string            `json:"verification,omitempty"`
	TotalFindings  int               `json:"total_findings"`
	TotalClaims    int               `json:"total_claims"`
	Refusals       int               `json:"refusals"`
	TotalRisks     int               `json:"total_risks"`
	OverallScore   float64           `json:"overall_score"`
	SeverityCounts map[string]int    `json:"severity_counts"`
	Duration       string            `json:"duration"`
	StageDurations map[string]string `json:"stage_durations,omitempty"`
	TopRisks       []RiskSummary     `json:"top_risks,omitempty"`
}

type RiskSummary struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Severity string  `json:"severity"`
	Symbol   string  `json:"symbol,omitempty"`
	Score    float64 `json:"score"`
}

// Log appends one JSON record per finished run. It is safe for concurrent
// use within a process.
type Log struct {
	mu      sync.Mutex
	logPath string
}

// DefaultPath keeps the trail inside .git when root is a repository.
func DefaultPath(root string) string {
	gitDir := filepath.Join(root, ".git")
	if st, err := os.Stat(gitDir); err == nil && st.IsDir() {
		return filepath.Join(gitDir, "clauselens_audit.jsonl")
	}
	return filepath.Join(root, ".clauselens_audit.jsonl")
}

func New(path string) *Log {
	return &Log{logPath: path}
}

func (a *Log) Path() string { return a.logPath }

// LoadHistory returns records newest first. Undecodable lines are skipped.
func (a *Log) LoadHistory() ([]RunRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.Open(a.logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var records []RunRecord
	decoder := json.NewDecoder(f)
	for decoder.More() {
		var record RunRecord
		if err := decoder.Decode(&record); err != nil {
			break
		}
		records = append(records, record)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func (a *Log) LogRun(record RunRecord) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create audit dir: %w", err)
	}
	// owner-only: records carry contract identities and risk metadata
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(record); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

// Outcome is what a finished run hands to CreateRunRecord.
type Outcome struct {
	RunID        string
	Identity     string
	State        string
	FailedStage  string
	Error        string
	Verification string
	Findings     []types.Finding
	Claims       []types.Claim
	Risks        []types.Risk
	OverallScore float64
	Duration     time.Duration
	Stages       map[string]time.Duration
}

func CreateRunRecord(o Outcome) RunRecord {
	severityCounts := make(map[string]int)
	findings := 0
	for _, f := range o.Findings {
		if f.Synthetic {
			continue
		}
		findings++
		severityCounts[string(f.Severity)]++
	}
	refusals := 0
	for _, c := range o.Claims {
		if c.Refused() {
			refusals++
		}
	}

	topRisks := make([]RiskSummary, 0, 10)
	for i, r := range o.Risks {
		if i >= 10 {
			break
		}
		topRisks = append(topRisks, RiskSummary{
			ID:       r.ID,
			Category: string(r.Category),
			Severity: string(r.Severity),
			Symbol:   r.Symbol,
			Score:    r.Score,
		})
	}

	var stages map[string]string
	if len(o.Stages) > 0 {
		stages = make(map[string]string, len(o.Stages))
		for k, d := range o.Stages {
			stages[k] = d.Round(time.Millisecond).String()
		}
	}

	return RunRecord{
		Timestamp:      time.Now().UTC(),
		RunID:          o.RunID,
		Identity:       o.Identity,
		State:          o.State,
		FailedStage:    o.FailedStage,
		Error:          o.Error,
		Verification:   o.Verification,
		TotalFindings:  findings,
		TotalClaims:    len(o.Claims),
		Refusals:       refusals,
		TotalRisks:     len(o.Risks),
		OverallScore:   o.OverallScore,
		SeverityCounts: severityCounts,
		Duration:       o.Duration.Round(time.Millisecond).String(),
		StageDurations: stages,
		TopRisks:       topRisks,
	}
}
