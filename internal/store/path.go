package store

import "strings"

// Well-known tree roots. Guests get their own channel root so backend access
// rules can separate the two populations.
const (
	ChannelsRoot      = "channels"
	GuestChannelsRoot = "guestChannels/public"
	ProfilesRoot      = "newusers"
	GuestProfilesRoot = "guestUsers"
)

// Join assembles a slash-separated path, skipping empty segments.
func Join(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, "/")
		if part != "" {
			cleaned = append(cleaned, part)
		}
	}
	return strings.Join(cleaned, "/")
}

// Split breaks a path into its segments.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// IsAncestor reports whether a equals b or is a path prefix of b.
func IsAncestor(a, b string) bool {
	a = strings.Trim(a, "/")
	b = strings.Trim(b, "/")
	if a == "" {
		return true
	}
	return a == b || strings.HasPrefix(b, a+"/")
}

// ChannelPath addresses one channel record under the given channel root.
func ChannelPath(base, channelID string) string {
	return Join(base, channelID)
}

// ChannelMemberPath addresses one member entry of a channel.
func ChannelMemberPath(base, channelID, memberKey string) string {
	return Join(base, channelID, "members", memberKey)
}

// ChannelMessagesPath addresses a channel's message subtree. The channel root
// is part of the path so guest and registered messages stay separated.
func ChannelMessagesPath(base, channelID string) string {
	return Join("channelMessages", base, channelID)
}

// ProfilePath addresses a registered identity's profile record.
func ProfilePath(identityID string) string {
	return Join(ProfilesRoot, identityID)
}

// DMThreadsPath addresses the owner's whole DM thread metadata subtree.
func DMThreadsPath(ownerID string) string {
	return Join("dmThreads", ownerID)
}

// DMThreadPath addresses one direction of a DM thread's metadata.
func DMThreadPath(ownerID, peerID string) string {
	return Join("dmThreads", ownerID, peerID)
}

// DirectMessagesPath addresses a DM conversation's message subtree.
func DirectMessagesPath(conversationID string) string {
	return Join("directMessages", conversationID)
}
