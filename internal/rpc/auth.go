package rpc

import (
	"context"
	"crypto/subtle"
	"errors"

	"connectrpc.com/connect"
)

var errUnauthenticated = errors.New("missing or invalid ops token")

// NewTokenInterceptor guards the ops service with a shared bearer token. On
// the client side it attaches the token to every request instead.
func NewTokenInterceptor(token string) connect.UnaryInterceptorFunc {
	want := []byte("Bearer " + token)
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				req.Header().Set("Authorization", string(want))
				return next(ctx, req)
			}
			got := []byte(req.Header().Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				return nil, connect.NewError(connect.CodeUnauthenticated, errUnauthenticated)
			}
			return next(ctx, req)
		}
	}
}
