package referral

import (
	"fmt"
	"strings"

	"giveaway_ref_bot/store"
)

// Payload — разобранный аргумент /start вида "<channelKey>_<referrerId>"
type Payload struct {
	Channel    Channel
	ReferrerID int64
}

// ParsePayload разбирает аргумент по первому '_'. Любая ошибка означает
// "реферала нет", отдельной ошибки вызывающему не нужно.
func ParsePayload(raw string, channels *Channels) (Payload, bool) {
	raw = strings.TrimSpace(raw)
	key, ref, found := strings.Cut(raw, "_")
	if !found || key == "" || ref == "" {
		return Payload{}, false
	}
	ch, ok := channels.Lookup(key)
	if !ok {
		return Payload{}, false
	}
	id, ok := store.ParseUserID(ref)
	if !ok || id <= 0 {
		return Payload{}, false
	}
	return Payload{Channel: ch, ReferrerID: id}, true
}

func FormatPayload(channelKey string, referrerID int64) string {
	return fmt.Sprintf("%s_%d", channelKey, referrerID)
}

// Link строит персональную ссылку <botLink>?start=<channelKey>_<referrerId>
func Link(botLink, channelKey string, referrerID int64) string {
	return fmt.Sprintf("%s?start=%s", strings.TrimSuffix(botLink, "/"), FormatPayload(channelKey, referrerID))
}
