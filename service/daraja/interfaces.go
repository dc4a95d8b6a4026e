package daraja

import (
	"context"
)

// Gateway is the part of the Daraja client the payment engine depends on.
type Gateway interface {
	InitiateSTKPush(ctx context.Context, request PushRequest) (*STKPushResponse, error)
	Configured() bool
	MissingSettings() []string
}
