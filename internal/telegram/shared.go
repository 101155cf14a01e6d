package telegram

import (
	"context"
	"errors"

	"telegram-archive/internal/logging"
)

// SharedClient wraps a Client so that exactly one of its two callers (the
// Backup Engine and the Listener, when configured to run in one process
// over one MTProto session) is the owner entitled to disconnect it. The
// non-owner's Disconnect only checks the underlying session is still up;
// this prevents the listener from tearing down the backup's session
// mid-pull, and vice versa.
type SharedClient struct {
	Client
	owner bool
}

// NewSharedClient wraps inner for two collaborators. Exactly one of the
// two returned wrappers should be constructed with owner=true.
func NewSharedClient(inner Client, owner bool) *SharedClient {
	return &SharedClient{Client: inner, owner: owner}
}

func (s *SharedClient) Shared() bool { return true }

// Disconnect tears the session down only when this wrapper owns it;
// otherwise it verifies the embedded client still reports itself usable
// and returns nil, deliberately swallowing a non-owner's disconnect
// request.
func (s *SharedClient) Disconnect(ctx context.Context) error {
	if !s.owner {
		if _, err := s.Client.Self(ctx); err != nil {
			logging.Warn().Err(err).Msg("telegram: shared session appears down, non-owner cannot reconnect it")
			return errors.New("telegram: shared session unavailable to non-owner")
		}
		return nil
	}
	return s.Client.Disconnect(ctx)
}
