// Package verify turns submitted artifacts or an on-chain address into a
// ContractSnapshot, resolving proxy indirection and deciding whether the
// source can be trusted to describe the deployed code.
package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/evidence"
	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/solidity"
	"github.com/clauselens/clauselens/internal/types"
)

// Request names what to verify: an address on a chain, or artifacts already
// in the evidence store.
type Request struct {
	ChainID     string
	Address     string
	ArtifactIDs []string
	// Name overrides the snapshot name and, for uploads, its identity.
	Name    string
	Version string
}

// Identity returns the contract identity a request resolves to before any
// artifact is parsed. It is both the run lease key and the snapshot
// identity. Unnamed uploads are identified by their artifact set, so two
// versions of one contract only share an identity once they share a name.
func (r Request) Identity() string {
	if r.Address != "" {
		chain := r.ChainID
		if chain == "" {
			chain = "1"
		}
		return "chain:" + chain + ":" + NormalizeAddress(r.Address)
	}
	if r.Name != "" {
		return "local:" + r.Name
	}
	if len(r.ArtifactIDs) == 0 {
		return ""
	}
	ids := append([]string(nil), r.ArtifactIDs...)
	sort.Strings(ids)
	return fmt.Sprintf("upload:%016x", xxhash.Sum64String(strings.Join(ids, "\x00")))
}

// Verifier builds snapshots.
type Verifier struct {
	store    *evidence.Store
	explorer Explorer
	maxHops  int
	log      *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithExplorer injects the chain-data client.
func WithExplorer(ex Explorer) Option { return func(v *Verifier) { v.explorer = ex } }

// WithMaxHops bounds proxy resolution.
func WithMaxHops(n int) Option { return func(v *Verifier) { v.maxHops = n } }

// WithLogger sets the verifier's logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) { v.log = logging.OrNop(l).Named("verify") }
}

// New returns a verifier writing fetched artifacts into store.
func New(store *evidence.Store, opts ...Option) *Verifier {
	v := &Verifier{store: store, maxHops: DefaultMaxProxyHops, log: zap.NewNop()}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify produces a snapshot. A bytecode mismatch yields a snapshot with
// status mismatched; unparsable input or a cyclic proxy is fatal.
func (v *Verifier) Verify(ctx context.Context, req Request) (*types.Snapshot, error) {
	if req.Address != "" {
		return v.verifyOnChain(ctx, req)
	}
	if len(req.ArtifactIDs) == 0 {
		return nil, &types.FatalIngestionError{Reason: "request names neither an address nor artifacts"}
	}
	return v.verifyUploaded(ctx, req)
}

func (v *Verifier) verifyUploaded(ctx context.Context, req Request) (*types.Snapshot, error) {
	var sources, abis, bytecodes []types.Artifact
	for _, id := range req.ArtifactIDs {
		art, ok := v.store.Artifact(id)
		if !ok {
			return nil, &types.FatalIngestionError{Reason: "unknown artifact " + id}
		}
		content, _ := v.store.Content(id)
		if got := evidence.Checksum(content); got != art.Checksum {
			return nil, &types.FatalIngestionError{Reason: fmt.Sprintf("checksum mismatch for %s: stored %s, computed %s", art.Name, art.Checksum, got)}
		}
		switch art.Kind {
		case types.KindSource:
			sources = append(sources, art)
		case types.KindABI:
			abis = append(abis, art)
		case types.KindBytecode:
			bytecodes = append(bytecodes, art)
		}
	}

	snap, err := v.build(sources, req)
	if err != nil {
		return nil, err
	}
	snap.ArtifactIDs = sortedIDs(req.ArtifactIDs)

	abiSyms, err := v.abiSymbols(abis)
	if err != nil {
		return nil, err
	}
	switch {
	case len(sources) == 0:
		snap.Symbols = abiSyms
		snap.VerificationStatus = types.StatusUnverified
		snap.VerificationNote = "no source supplied"
	default:
		snap.VerificationStatus = types.StatusVerified
		if missing := missingSelectors(abiSyms, snap.Symbols); len(missing) > 0 {
			snap.VerificationStatus = types.StatusMismatched
			snap.VerificationNote = "ABI declares functions absent from source: " + strings.Join(missing, ", ")
		}
	}
	for _, bc := range bytecodes {
		code, _ := v.store.Content(bc.ID)
		if missing := selectorsAbsentFromCode(snap.Symbols, decodeCode(code)); len(missing) > 0 && len(sources) > 0 {
			snap.VerificationStatus = types.StatusMismatched
			snap.VerificationNote = "bytecode lacks dispatch for: " + strings.Join(missing, ", ")
		}
	}
	v.log.Info("verified upload",
		zap.String("identity", snap.Identity),
		zap.String("status", string(snap.VerificationStatus)),
		zap.Int("symbols", len(snap.Symbols)))
	return snap, nil
}

func (v *Verifier) verifyOnChain(ctx context.Context, req Request) (*types.Snapshot, error) {
	if v.explorer == nil {
		return nil, &types.FatalIngestionError{Reason: "address lookup requested but no explorer is configured"}
	}
	chain := req.ChainID
	if chain == "" {
		chain = "1"
	}
	res, err := ResolveProxy(ctx, v.explorer, chain, req.Address, v.maxHops, v.log)
	if err != nil {
		return nil, err
	}

	info, err := v.explorer.SourceCode(ctx, chain, res.Logic)
	if err != nil {
		return nil, transient(err)
	}
	code, err := v.explorer.Code(ctx, chain, res.Logic)
	if err != nil {
		return nil, transient(err)
	}

	var ids []string
	var sources, abis []types.Artifact
	if len(code) > 0 {
		art, err := v.store.PutArtifact(ctx, []byte("0x"+hex.EncodeToString(code)), types.KindBytecode, types.OriginFetched, res.Logic+".bin")
		if err != nil {
			return nil, err
		}
		ids = append(ids, art.ID)
	}
	if info != nil {
		paths := make([]string, 0, len(info.Files))
		for p := range info.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			art, err := v.store.PutArtifact(ctx, []byte(info.Files[p]), types.KindSource, types.OriginFetched, p)
			if err != nil {
				return nil, err
			}
			ids = append(ids, art.ID)
			sources = append(sources, art)
		}
		if info.ABI != "" {
			art, err := v.store.PutArtifact(ctx, []byte(info.ABI), types.KindABI, types.OriginFetched, info.ContractName+".abi.json")
			if err != nil {
				return nil, err
			}
			ids = append(ids, art.ID)
			abis = append(abis, art)
		}
	}

	req.Name = firstNonEmpty(req.Name, infoName(info))
	snap, err := v.build(sources, req)
	if err != nil {
		return nil, err
	}
	snap.Identity = req.Identity()
	snap.ChainID = chain
	snap.Address = NormalizeAddress(req.Address)
	snap.Implementation = res.Logic
	snap.ProxyKind = res.Kind
	snap.ProxyChain = res.Chain
	snap.ArtifactIDs = sortedIDs(ids)
	if info != nil {
		snap.CompilerVersion = info.CompilerVersion
	}

	switch {
	case info == nil || len(sources) == 0:
		abiSyms, err := v.abiSymbols(abis)
		if err != nil {
			return nil, err
		}
		snap.Symbols = abiSyms
		snap.VerificationStatus = types.StatusUnverified
		snap.VerificationNote = "no verified source published for " + res.Logic
	case info.BytecodeHash != "":
		got := "0x" + hex.EncodeToString(solidity.Keccak256(code))
		snap.VerificationStatus = types.StatusVerified
		if !strings.EqualFold(got, info.BytecodeHash) {
			snap.VerificationStatus = types.StatusMismatched
			snap.VerificationNote = fmt.Sprintf("on-chain bytecode hash %s differs from published %s", got, info.BytecodeHash)
		}
	default:
		snap.VerificationStatus = types.StatusVerified
		if missing := selectorsAbsentFromCode(snap.Symbols, code); len(missing) > 0 {
			snap.VerificationStatus = types.StatusMismatched
			snap.VerificationNote = "on-chain bytecode lacks dispatch for: " + strings.Join(missing, ", ")
		}
	}
	v.log.Info("verified address",
		zap.String("identity", snap.Identity),
		zap.String("logic", res.Logic),
		zap.String("proxy", string(res.Kind)),
		zap.String("status", string(snap.VerificationStatus)))
	return snap, nil
}

// build parses sources into a snapshot skeleton.
func (v *Verifier) build(sources []types.Artifact, req Request) (*types.Snapshot, error) {
	snap := &types.Snapshot{Name: req.Name, Version: req.Version}
	if len(sources) == 0 {
		if snap.Name == "" {
			snap.Name = "unnamed"
		}
		snap.Identity = firstNonEmpty(req.Identity(), "local:"+snap.Name)
		return snap, nil
	}

	units := make([]*solidity.Unit, 0, len(sources))
	unitArtifact := map[*solidity.Unit]string{}
	for _, art := range sources {
		content, _ := v.store.Content(art.ID)
		if !strings.EqualFold(filepath.Ext(art.Name), ".sol") && !bytes.Contains(content, []byte("contract ")) {
			continue
		}
		u, err := solidity.Parse(art.Name, content)
		if err != nil {
			return nil, &types.FatalIngestionError{Reason: "unparsable artifact " + art.Name, Err: err}
		}
		units = append(units, u)
		unitArtifact[u] = art.ID
	}
	if len(units) == 0 {
		return nil, &types.FatalIngestionError{Reason: "no Solidity source among supplied artifacts"}
	}

	primary := solidity.Primary(units)
	snap.Name = firstNonEmpty(req.Name, primary.Name)
	snap.Identity = firstNonEmpty(req.Identity(), "local:"+primary.Name)
	if snap.Version == "" {
		snap.Version = shortVersion(sources)
	}

	lineage := map[string]bool{}
	byName := map[string]*solidity.Contract{}
	for _, u := range units {
		for i := range u.Contracts {
			byName[u.Contracts[i].Name] = &u.Contracts[i]
		}
	}
	var walk func(name string)
	walk = func(name string) {
		if lineage[name] {
			return
		}
		lineage[name] = true
		if c, ok := byName[name]; ok {
			for _, b := range c.Bases {
				walk(b)
			}
		}
	}
	walk(primary.Name)

	if pu := unitOf(units, primary); pu != nil {
		snap.Pragma = pu.Pragma
	}
	for _, u := range units {
		snap.Pragma = firstNonEmpty(snap.Pragma, u.Pragma)
		for _, c := range u.Contracts {
			if !lineage[c.Name] {
				continue
			}
			for _, sym := range c.Symbols {
				sym.ArtifactID = unitArtifact[u]
				snap.Symbols = append(snap.Symbols, sym)
			}
		}
	}
	snap.Storage = solidity.Layout(units, primary.Name)
	return snap, nil
}

func unitOf(units []*solidity.Unit, c *solidity.Contract) *solidity.Unit {
	for _, u := range units {
		for i := range u.Contracts {
			if &u.Contracts[i] == c {
				return u
			}
		}
	}
	return nil
}

func (v *Verifier) abiSymbols(abis []types.Artifact) ([]types.Symbol, error) {
	var out []types.Symbol
	for _, a := range abis {
		content, _ := v.store.Content(a.ID)
		syms, err := solidity.ParseABI(content)
		if err != nil {
			return nil, &types.FatalIngestionError{Reason: "unparsable ABI " + a.Name, Err: err}
		}
		for i := range syms {
			syms[i].ArtifactID = a.ID
		}
		out = append(out, syms...)
	}
	return out, nil
}

// missingSelectors lists ABI functions with no matching source selector.
func missingSelectors(abi, source []types.Symbol) []string {
	have := map[string]bool{}
	for _, s := range source {
		if s.Selector != "" {
			have[s.Selector] = true
		}
	}
	var out []string
	for _, s := range abi {
		if s.Kind == types.SymFunction && s.Selector != "" && !have[s.Selector] {
			out = append(out, s.Signature)
		}
	}
	return out
}

// selectorsAbsentFromCode lists externally callable functions whose selector
// never appears in the runtime bytecode's dispatcher.
func selectorsAbsentFromCode(syms []types.Symbol, code []byte) []string {
	if len(code) == 0 {
		return nil
	}
	var out []string
	for _, s := range syms {
		if s.Kind != types.SymFunction || s.Selector == "" {
			continue
		}
		sel, err := hex.DecodeString(strings.TrimPrefix(s.Selector, "0x"))
		if err != nil {
			continue
		}
		if !bytes.Contains(code, append([]byte{0x63}, sel...)) {
			out = append(out, s.Signature)
		}
	}
	return out
}

// decodeCode accepts raw or hex-encoded bytecode artifacts.
func decodeCode(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	if strings.HasPrefix(s, "0x") {
		if raw, err := hex.DecodeString(s[2:]); err == nil {
			return raw
		}
	}
	return b
}

func shortVersion(arts []types.Artifact) string {
	ids := make([]string, len(arts))
	for i, a := range arts {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	joined := strings.Join(ids, ",")
	return evidence.Checksum([]byte(joined))[7:19]
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func infoName(info *SourceInfo) string {
	if info == nil {
		return ""
	}
	return info.ContractName
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
