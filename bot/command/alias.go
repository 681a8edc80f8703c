// Package command resolves custom per-guild chat commands (aliases) that
// pre-empt quest handling of guild messages.
package command

import (
	"strings"

	"github.com/kasuganosora/factionbot/model"
)

// maxCloneHops bounds alias clone chains so a cycle cannot spin forever.
const maxCloneHops = 100

// Resolve looks up a message as a custom command and returns the reply text.
// Clone entries redirect to another command key; channel restrictions are
// honored. ok is false when the message matches no usable command.
func Resolve(aliases model.AliasDoc, channelID, content string) (reply string, ok bool) {
	if len(aliases) == 0 {
		return "", false
	}
	key := strings.ToLower(strings.TrimSpace(content))
	for hop := 0; hop < maxCloneHops; hop++ {
		alias, found := aliases[key]
		if !found {
			return "", false
		}
		if alias.Text != nil {
			if !allowedIn(alias, channelID) {
				return "", false
			}
			text, err := alias.Text.Resolve()
			if err != nil {
				return "", false
			}
			return text, true
		}
		if alias.Clone == nil {
			return "", false
		}
		next, err := alias.Clone.Resolve()
		if err != nil {
			return "", false
		}
		key = next
	}
	return "", false
}

func allowedIn(alias model.CommandAlias, channelID string) bool {
	if len(alias.RequireChannel) > 0 && !contains(alias.RequireChannel, channelID) {
		return false
	}
	if contains(alias.IgnoreChannel, channelID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
