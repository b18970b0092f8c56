// Package validator implements the cheap-to-clone validator RPC client
// described by spec.md section 4.2: unary queries, four server-push
// streams, and the state-channel surface used by router/PoC
// collaborators. Every signed response is verified before its payload
// is trusted, except the acknowledgements returned by CloseSC and
// SendReport, which are not signature-checked.
package validator

import (
	"context"
	"crypto/ed25519"
	"math/rand/v2"

	"github.com/helium/gateway-dispatcher/internal/gwerr"
	"github.com/helium/gateway-dispatcher/internal/keyeduri"
	"github.com/helium/gateway-dispatcher/internal/validatorpb"
	"google.golang.org/grpc"
)

const gatewayServicePath = "/helium.gateway.Gateway/"

// Service is a thin, cloneable RPC client bound to a single validator
// identity. Copying a Service by value is cheap: the underlying
// connection is shared.
type Service struct {
	URI  keyeduri.KeyedUri
	conn *grpc.ClientConn
}

// New connects (lazily) to the validator identified by ku.
func New(ku keyeduri.KeyedUri) (Service, error) {
	conn, err := dial(ku.URI)
	if err != nil {
		return Service{}, gwerr.Transport(err)
	}
	return Service{URI: ku, conn: conn}, nil
}

// SelectSeed picks uniformly at random from a non-empty seed list and
// connects to it.
func SelectSeed(seeds []keyeduri.KeyedUri) (Service, error) {
	if len(seeds) == 0 {
		return Service{}, gwerr.Custom("empty uri list")
	}
	return New(seeds[rand.IntN(len(seeds))])
}

// RandomNew fetches up to n validator addresses from the current
// service and connects to one chosen uniformly at random. It returns
// (zero, false, nil) if cancel fires first, and (zero, false, ctx.Err())
// if ctx is done first.
func (s Service) RandomNew(ctx context.Context, n uint32, cancel <-chan struct{}) (Service, bool, error) {
	type result struct {
		svc Service
		err error
	}
	done := make(chan result, 1)
	go func() {
		vs, err := s.Validators(ctx, n)
		if err != nil {
			done <- result{err: err}
			return
		}
		if len(vs) == 0 {
			done <- result{err: gwerr.Custom("empty gateway list")}
			return
		}
		svc, err := New(vs[rand.IntN(len(vs))])
		done <- result{svc: svc, err: err}
	}()

	select {
	case <-cancel:
		return Service{}, false, nil
	case r := <-done:
		if r.err != nil {
			return Service{}, false, r.err
		}
		return r.svc, true, nil
	case <-ctx.Done():
		return Service{}, false, ctx.Err()
	}
}

func unaryCallTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, RPCTimeout)
}

func (s Service) invoke(ctx context.Context, method string, req, resp any) error {
	ctx, cancel := unaryCallTimeout(ctx)
	defer cancel()
	if err := s.conn.Invoke(ctx, gatewayServicePath+method, req, resp); err != nil {
		return gwerr.RPC(err)
	}
	return nil
}

// Validators returns up to n KeyedUris known to this validator.
func (s Service) Validators(ctx context.Context, n uint32) ([]keyeduri.KeyedUri, error) {
	var resp validatorpb.ValidatorsResp
	if err := s.invoke(ctx, "Validators", &validatorpb.ValidatorsReq{Quantity: n}, &resp); err != nil {
		return nil, err
	}
	if err := s.verify(resp); err != nil {
		return nil, err
	}
	out := make([]keyeduri.KeyedUri, 0, len(resp.Result))
	for _, ku := range resp.Result {
		out = append(out, keyeduri.New(ed25519.PublicKey(ku.PubKey), ku.URI))
	}
	return out, nil
}

// Config fetches current values for the given configuration keys.
func (s Service) Config(ctx context.Context, keys []string) ([]validatorpb.ConfigVar, error) {
	var resp validatorpb.ConfigResp
	if err := s.invoke(ctx, "Config", &validatorpb.ConfigReq{Keys: keys}, &resp); err != nil {
		return nil, err
	}
	if err := s.verify(resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Height returns the chain height and block age as seen by this
// validator, piggy-backed on an empty-keys config probe exactly as the
// upstream service does.
func (s Service) Height(ctx context.Context) (height, blockAge uint64, err error) {
	var resp validatorpb.ConfigResp
	if err := s.invoke(ctx, "Config", &validatorpb.ConfigReq{}, &resp); err != nil {
		return 0, 0, err
	}
	if err := s.verify(resp); err != nil {
		return 0, 0, err
	}
	return resp.Height, resp.BlockAge, nil
}

// Version returns the validator's reported protocol version, or nil if
// it answered with an empty version message ("unknown", distinct from
// a known-zero version).
func (s Service) Version(ctx context.Context) (*uint64, error) {
	var resp validatorpb.VersionResp
	if err := s.invoke(ctx, "Version", &validatorpb.VersionReq{}, &resp); err != nil {
		return nil, err
	}
	if err := s.verify(resp); err != nil {
		return nil, err
	}
	if resp.Version == nil {
		return nil, nil
	}
	return resp.Version, nil
}
