package model

import (
	"github.com/kasuganosora/factionbot/bot/questdef"
)

// CommandAlias is one custom chat command of a guild.
type CommandAlias struct {
	// Text is the reply sent to the channel.
	Text *questdef.Randomizable[string] `json:"text,omitempty"`
	// Clone redirects to another command key; chains are followed with a
	// bounded number of hops.
	Clone *questdef.Randomizable[string] `json:"clone,omitempty"`
	// RequireChannel restricts the command to the listed channels.
	RequireChannel []string `json:"requireChannel,omitempty"`
	// IgnoreChannel disables the command in the listed channels.
	IgnoreChannel []string `json:"ignoreChannel,omitempty"`
}

// AliasDoc is the commandAliases document: lowercased command → alias.
type AliasDoc map[string]CommandAlias
