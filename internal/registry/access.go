package registry

import (
	"strings"

	"github.com/pscheid92/pulsegate/internal/domain"
)

// Tier classifies a channel name into its access model.
type Tier string

const (
	// TierPublic channels are open to every connection, authenticated or not.
	TierPublic Tier = "public"
	// TierIdentity channels ("user:<identity>") are private to one identity.
	TierIdentity Tier = "identity"
	// TierRole channels ("admin" or "admin:...") require a privileged role.
	TierRole Tier = "role"
)

const (
	identityChannelPrefix = "user:"
	roleChannelName       = "admin"
	roleChannelPrefix     = "admin:"
)

// Classify returns the access tier encoded in the channel name.
func Classify(channel string) Tier {
	switch {
	case strings.HasPrefix(channel, identityChannelPrefix):
		return TierIdentity
	case channel == roleChannelName || strings.HasPrefix(channel, roleChannelPrefix):
		return TierRole
	default:
		return TierPublic
	}
}

// CheckAccess decides whether the given binding may subscribe to the
// channel. Returns domain.ErrChannelAccessDenied on refusal.
func CheckAccess(channel string, identity domain.Identity, role domain.Role) error {
	switch Classify(channel) {
	case TierIdentity:
		owner := strings.TrimPrefix(channel, identityChannelPrefix)
		if identity == "" || string(identity) != owner {
			return domain.ErrChannelAccessDenied
		}
	case TierRole:
		if !role.Privileged() {
			return domain.ErrChannelAccessDenied
		}
	}
	return nil
}
