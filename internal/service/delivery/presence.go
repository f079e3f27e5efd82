package delivery

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/pkg/messaging"
)

type localHub interface {
	Online(userID uuid.UUID) bool
}

type hubPresence struct{ hub localHub }

// HubPresence reports presence from this process's gateway sessions only.
func HubPresence(hub localHub) Presence {
	return hubPresence{hub: hub}
}

func (p hubPresence) Online(_ context.Context, userID uuid.UUID) (bool, error) {
	return p.hub.Online(userID), nil
}

type sharedPresence struct{ p messaging.Presence }

// SharedPresence reports presence recorded by every gateway instance.
func SharedPresence(p messaging.Presence) Presence {
	return sharedPresence{p: p}
}

func (s sharedPresence) Online(ctx context.Context, userID uuid.UUID) (bool, error) {
	return s.p.Online(ctx, userID.String())
}
