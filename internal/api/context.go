package api

import (
	"context"

	"mentorchat/pkg/types"
)

func contextWithIdentity(ctx context.Context, identity types.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// identityFrom returns the identity the authenticate middleware stored
// on the context. Handlers behind the middleware can rely on it being
// present.
func identityFrom(ctx context.Context) types.Identity {
	identity, _ := ctx.Value(identityKey).(types.Identity)
	return identity
}
