package pubsub

import "strings"

// DefaultChannelPrefix namespaces per-room channels.
const DefaultChannelPrefix = "relay:room"

// RoomChannel returns the channel name for events of one room.
//
//	RoomChannel("relay:room", "general") → "relay:room:general"
func RoomChannel(prefix, roomID string) string {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return prefix + ":" + roomID
}

// RoomFromChannel extracts the room id from a channel built by RoomChannel.
// Room ids may themselves contain ':'.
func RoomFromChannel(prefix, channel string) (string, bool) {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	roomID, ok := strings.CutPrefix(channel, prefix+":")
	if !ok {
		return "", false
	}
	return roomID, true
}
