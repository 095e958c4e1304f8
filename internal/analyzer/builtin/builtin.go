// Package builtin is the in-process pattern analyzer. It needs no external
// tooling and always runs, so every snapshot gets a baseline of findings.
package builtin

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/blang/semver/v4"

	"github.com/clauselens/clauselens/internal/analyzer"
	"github.com/clauselens/clauselens/internal/solidity"
	"github.com/clauselens/clauselens/internal/types"
)

const Name = "patterns"

// MinCompiler is the oldest compiler with checked arithmetic.
var MinCompiler = semver.MustParse("0.8.0")

type Adapter struct {
	rules []rule
}

// rule inspects one state-changing function.
type rule struct {
	id    string
	check func(c *fnContext) *types.Finding
}

type fnContext struct {
	fn        types.Symbol
	gates     []string
	stateVars []string
}

func New() *Adapter {
	return &Adapter{rules: []rule{
		{"privileged-function", privileged},
		{"tx-origin-auth", txOrigin},
		{"unprotected-selfdestruct", selfdestruct},
		{"unprotected-delegatecall", delegatecall},
		{"reentrancy-no-guard", reentrancy},
		{"unchecked-low-level-call", uncheckedCall},
	}}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Timeout() time.Duration { return 30 * time.Second }

func (a *Adapter) Applicable(in analyzer.Input) bool { return in.Snapshot != nil }

func (a *Adapter) Run(ctx context.Context, in analyzer.Input) ([]types.Finding, error) {
	snap := in.Snapshot
	gates := solidity.AccessGates(snap.Symbols)
	var stateVars []string
	for _, s := range snap.Symbols {
		if s.Kind == types.SymStateVar {
			stateVars = append(stateVars, s.Name)
		}
	}

	var out []types.Finding
	if f := outdatedCompiler(snap); f != nil {
		out = append(out, *f)
	}
	fns := snap.Functions()
	sort.SliceStable(fns, func(i, j int) bool {
		if fns[i].ArtifactID != fns[j].ArtifactID {
			return fns[i].ArtifactID < fns[j].ArtifactID
		}
		return fns[i].StartLine < fns[j].StartLine
	})
	for _, fn := range fns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !solidity.StateChanging(fn) {
			continue
		}
		c := &fnContext{fn: fn, gates: solidity.GatedBy(fn, gates), stateVars: stateVars}
		for _, r := range a.rules {
			f := r.check(c)
			if f == nil {
				continue
			}
			f.RuleID = r.id
			f.Symbol = fn.Name
			f.Location = locate(fn, in)
			out = append(out, *f)
		}
	}
	return out, nil
}

func locate(fn types.Symbol, in analyzer.Input) types.Location {
	loc := types.Location{ArtifactID: fn.ArtifactID, StartLine: fn.StartLine, EndLine: fn.EndLine}
	for _, s := range in.Sources {
		if s.ArtifactID == fn.ArtifactID {
			loc.Path = s.Path
			break
		}
	}
	return loc
}

func privileged(c *fnContext) *types.Finding {
	if len(c.gates) == 0 {
		return nil
	}
	return &types.Finding{
		Title:       fmt.Sprintf("privileged function %s", c.fn.Name),
		Description: fmt.Sprintf("%s changes state and is restricted by %s; whoever holds that role controls it.", c.fn.Signature, strings.Join(c.gates, ", ")),
		Severity:    types.SevMed,
		Category:    types.CatAccessControl,
		Confidence:  0.9,
		Metadata:    map[string]string{"gates": strings.Join(c.gates, ",")},
	}
}

var txOriginRe = regexp.MustCompile(`tx\.origin\s*(==|!=)|(==|!=)\s*tx\.origin`)

func txOrigin(c *fnContext) *types.Finding {
	if !txOriginRe.MatchString(c.fn.Body) {
		return nil
	}
	return &types.Finding{
		Title:       "authorization through tx.origin",
		Description: fmt.Sprintf("%s compares tx.origin, which a malicious intermediate contract can satisfy.", c.fn.Signature),
		Severity:    types.SevHigh,
		Category:    types.CatAccessControl,
		Confidence:  0.8,
	}
}

var selfdestructRe = regexp.MustCompile(`\b(selfdestruct|suicide)\s*\(`)

func selfdestruct(c *fnContext) *types.Finding {
	if len(c.gates) > 0 || !selfdestructRe.MatchString(c.fn.Body) {
		return nil
	}
	return &types.Finding{
		Title:       "unprotected selfdestruct",
		Description: fmt.Sprintf("any caller of %s can destroy the contract.", c.fn.Signature),
		Severity:    types.SevHigh,
		Category:    types.CatAccessControl,
		Confidence:  0.8,
	}
}

var delegatecallRe = regexp.MustCompile(`\.delegatecall\s*\(`)

func delegatecall(c *fnContext) *types.Finding {
	if len(c.gates) > 0 || !delegatecallRe.MatchString(c.fn.Body) {
		return nil
	}
	return &types.Finding{
		Title:       "unprotected delegatecall",
		Description: fmt.Sprintf("%s delegatecalls without an access check; the callee runs with this contract's storage.", c.fn.Signature),
		Severity:    types.SevHigh,
		Category:    types.CatAccessControl,
		Confidence:  0.7,
	}
}

// send and transfer forward too little gas to re-enter.
var externalCallRe = regexp.MustCompile(`\.call\s*[\({]`)

func reentrancy(c *fnContext) *types.Finding {
	for _, m := range c.fn.Modifiers {
		if strings.EqualFold(m, "nonReentrant") || strings.EqualFold(m, "noReentrancy") {
			return nil
		}
	}
	body := c.fn.Body
	loc := externalCallRe.FindStringIndex(body)
	if loc == nil {
		return nil
	}
	after := body[loc[1]:]
	for _, v := range c.stateVars {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(v) + `\b(\s*\[[^\]]*\])*\s*(=[^=]|\+=|-=|\+\+|--)`)
		if re.MatchString(after) {
			return &types.Finding{
				Title:       "state written after external call",
				Description: fmt.Sprintf("%s updates %s after a low-level call and has no reentrancy guard.", c.fn.Signature, v),
				Severity:    types.SevHigh,
				Category:    types.CatFinancial,
				Confidence:  0.6,
				Metadata:    map[string]string{"state_var": v},
			}
		}
	}
	return nil
}

var bareCallRe = regexp.MustCompile(`(?m)^\s*[\w\.\[\]]+\.(call\s*[\({]|send\s*\()`)

func uncheckedCall(c *fnContext) *types.Finding {
	if !bareCallRe.MatchString(c.fn.Body) {
		return nil
	}
	return &types.Finding{
		Title:       "unchecked low-level call",
		Description: fmt.Sprintf("%s ignores the success flag of a low-level call.", c.fn.Signature),
		Severity:    types.SevMed,
		Category:    types.CatTechnical,
		Confidence:  0.6,
	}
}

func outdatedCompiler(snap *types.Snapshot) *types.Finding {
	if snap.Pragma == "" {
		return nil
	}
	low, err := solidity.LowerBound(snap.Pragma)
	if err != nil || !low.LT(MinCompiler) {
		return nil
	}
	return &types.Finding{
		RuleID:      "outdated-compiler",
		Title:       "compiler without checked arithmetic",
		Description: fmt.Sprintf("pragma %s admits %s, older than %s; arithmetic can silently overflow.", snap.Pragma, low, MinCompiler),
		Severity:    types.SevLow,
		Category:    types.CatTechnical,
		Confidence:  0.9,
	}
}
