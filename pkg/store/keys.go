package store

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// notation dictionary for key formats:
	// srv = server
	// ch  = channel
	// msg = message
	// idx = index
	// dm  = direct message pair
	// segments are separated by ":"; ids never contain ":"

	ServerKey  = "srv:%s"        // srv:<server_id>
	ChannelKey = "ch:%s"         // ch:<channel_id>
	MessageKey = "msg:%s:%s:%s"  // msg:<channel_id>:<ts>:<seq>

	// indexes
	ServerChannelIdx = "idx:srv:%s:ch:%s" // idx:srv:<server_id>:ch:<channel_id>
	MessageIdx       = "idx:msg:%s"       // idx:msg:<message_id> -> message key
	DMPairIdx        = "idx:dm:%s:%s"     // idx:dm:<server_id>:<pair_key> -> channel id

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth  = 20
	SeqPadWidth = 20
)

func PadTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}

func GenServerKey(id string) string  { return fmt.Sprintf(ServerKey, id) }
func GenChannelKey(id string) string { return fmt.Sprintf(ChannelKey, id) }

func GenMessageKey(channelID string, ts int64, seq uint64) string {
	return fmt.Sprintf(MessageKey, channelID, PadTS(ts), PadSeq(seq))
}

// MessagePrefix bounds every message key of a channel.
func MessagePrefix(channelID string) string {
	return "msg:" + channelID + ":"
}

func GenServerChannelIdx(serverID, channelID string) string {
	return fmt.Sprintf(ServerChannelIdx, serverID, channelID)
}

func ServerChannelPrefix(serverID string) string {
	return "idx:srv:" + serverID + ":ch:"
}

func GenMessageIdx(messageID string) string { return fmt.Sprintf(MessageIdx, messageID) }

func GenDMPairIdx(serverID, pairKey string) string {
	return fmt.Sprintf(DMPairIdx, serverID, pairKey)
}

// ParseMessageKey splits msg:<channel>:<ts>:<seq>.
func ParseMessageKey(key string) (channelID string, ts int64, seq uint64, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "msg" {
		return "", 0, 0, fmt.Errorf("invalid message key: %q", key)
	}
	ts, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid message key ts: %q", key)
	}
	seq, err = strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("invalid message key seq: %q", key)
	}
	return parts[1], ts, seq, nil
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}
