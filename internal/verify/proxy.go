package verify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/logging"
	"github.com/clauselens/clauselens/internal/types"
)

// DefaultMaxProxyHops bounds proxy resolution.
const DefaultMaxProxyHops = 8

// Resolution is the outcome of following a proxy chain.
type Resolution struct {
	Logic string
	Kind  types.ProxyKind
	// Chain lists every address visited, proxy first, logic last.
	Chain []string
}

// ResolveProxy follows EIP-1967 implementation and beacon slots from address
// until it reaches a contract that is not a proxy. Revisiting an address, or
// exceeding maxHops, is a FatalIngestionError.
func ResolveProxy(ctx context.Context, ex Explorer, chainID, address string, maxHops int, log *zap.Logger) (Resolution, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxProxyHops
	}
	log = logging.OrNop(log)
	current := NormalizeAddress(address)
	res := Resolution{Logic: current, Chain: []string{current}}
	visited := map[string]bool{current: true}

	for hops := 0; ; hops++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		next, kind, via, err := step(ctx, ex, chainID, current)
		if err != nil {
			return res, err
		}
		if next == "" {
			return res, nil
		}
		if hops >= maxHops {
			return res, &types.FatalIngestionError{Reason: fmt.Sprintf("proxy resolution exceeded %d hops at %s", maxHops, current)}
		}
		for _, addr := range append(via, next) {
			if visited[addr] {
				return res, &types.FatalIngestionError{Reason: fmt.Sprintf("cyclic proxy reference: %s revisits %s", current, addr)}
			}
			visited[addr] = true
			res.Chain = append(res.Chain, addr)
		}
		if res.Kind == types.ProxyNone {
			res.Kind = kind
		}
		log.Debug("proxy hop",
			zap.String("from", current),
			zap.String("to", next),
			zap.String("kind", string(kind)))
		current = next
		res.Logic = next
	}
}

// step inspects one address. via holds intermediate addresses such as a
// beacon that sit between the proxy and its implementation.
func step(ctx context.Context, ex Explorer, chainID, addr string) (next string, kind types.ProxyKind, via []string, err error) {
	word, err := ex.StorageAt(ctx, chainID, addr, SlotImplementation)
	if err != nil {
		return "", "", nil, transient(err)
	}
	if impl := wordToAddress(word); impl != "" {
		admin, err := ex.StorageAt(ctx, chainID, addr, SlotAdmin)
		if err != nil {
			return "", "", nil, transient(err)
		}
		if wordToAddress(admin) != "" {
			return impl, types.ProxyTransparent, nil, nil
		}
		return impl, types.ProxyUUPS, nil, nil
	}

	word, err = ex.StorageAt(ctx, chainID, addr, SlotBeacon)
	if err != nil {
		return "", "", nil, transient(err)
	}
	beacon := wordToAddress(word)
	if beacon == "" {
		return "", "", nil, nil
	}
	out, err := ex.Call(ctx, chainID, beacon, implementationCall)
	if err != nil {
		return "", "", nil, transient(err)
	}
	impl := wordToAddress(out)
	if impl == "" {
		return "", "", nil, &types.FatalIngestionError{Reason: fmt.Sprintf("beacon %s returned no implementation", beacon)}
	}
	return impl, types.ProxyBeacon, []string{beacon}, nil
}

func transient(err error) error {
	if types.IsTransient(err) || types.IsFatal(err) {
		return err
	}
	return &types.TransientToolError{Tool: "explorer", Err: err}
}
