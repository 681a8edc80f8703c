// Package gateway connects the quest engine to the Discord gateway. All
// inbound events are funneled through one buffered queue and dispatched
// serially, which is what lets the engine mutate per-user state without
// locking.
package gateway

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// messageLimit is the platform's per-message character cap.
const messageLimit = 2000

// Handler receives ordered gateway events.
type Handler interface {
	HandleGuildAvailable(ctx context.Context, guildID string)
	HandleMemberJoin(ctx context.Context, guildID, userID string)
	HandleDirectMessage(ctx context.Context, userID, content string)
	HandleGuildMessage(ctx context.Context, guildID, userID, channelID, content string)
}

// Config holds gateway settings.
type Config struct {
	Token string
	// EventBuffer is the capacity of the ordered event queue.
	EventBuffer int
}

// Gateway owns the Discord session and the ordered event queue.
type Gateway struct {
	session *discordgo.Session
	handler Handler
	logger  *zap.Logger
	events  chan func(ctx context.Context)
	botID   string
}

// New creates a Gateway. The handler is attached with SetHandler once the
// engine exists; Open must be called before Run.
func New(cfg Config, logger *zap.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("gateway: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.StateEnabled = true

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	g := &Gateway{
		session: session,
		logger:  logger,
		events:  make(chan func(ctx context.Context), buffer),
	}
	session.AddHandler(g.onGuildCreate)
	session.AddHandler(g.onGuildMemberAdd)
	session.AddHandler(g.onMessageCreate)
	return g, nil
}

// SetHandler attaches the event handler. Must be called before Open.
func (g *Gateway) SetHandler(h Handler) { g.handler = h }

// Open connects to the gateway.
func (g *Gateway) Open() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("gateway: open: %w", err)
	}
	if g.session.State.User != nil {
		g.botID = g.session.State.User.ID
	}
	g.logger.Info("gateway connected", zap.String("bot_id", g.botID))
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}

// Run dispatches queued events serially until the context is canceled.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-g.events:
			ev(ctx)
		}
	}
}

// enqueue submits an event without blocking the gateway's read loop. A full
// queue drops the event; the engine tolerates missed events by lazy-loading
// guilds and treating unknown users as fresh joins.
func (g *Gateway) enqueue(ev func(ctx context.Context)) {
	select {
	case g.events <- ev:
	default:
		g.logger.Warn("event queue full, dropping event")
	}
}

func (g *Gateway) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	guildID := e.ID
	g.enqueue(func(ctx context.Context) {
		g.handler.HandleGuildAvailable(ctx, guildID)
	})
}

func (g *Gateway) onGuildMemberAdd(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
	if e.User == nil || e.User.Bot {
		return
	}
	guildID, userID := e.GuildID, e.User.ID
	g.enqueue(func(ctx context.Context) {
		g.handler.HandleMemberJoin(ctx, guildID, userID)
	})
}

func (g *Gateway) onMessageCreate(_ *discordgo.Session, e *discordgo.MessageCreate) {
	if e.Author == nil || e.Author.Bot || e.Author.ID == g.botID {
		return
	}
	guildID, userID := e.GuildID, e.Author.ID
	channelID, content := e.ChannelID, e.Content
	g.enqueue(func(ctx context.Context) {
		if guildID == "" {
			g.handler.HandleDirectMessage(ctx, userID, content)
			return
		}
		g.handler.HandleGuildMessage(ctx, guildID, userID, channelID, content)
	})
}

// SendDirectMessage whispers to a user, chunked to the platform's message
// size limit. A user with whispers disabled yields an error, which the
// engine uses to roll back question transitions.
func (g *Gateway) SendDirectMessage(userID, text string) error {
	channel, err := g.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("gateway: open dm channel: %w", err)
	}
	return g.sendChunked(channel.ID, text)
}

// SendChannelMessage posts to a guild channel, chunked.
func (g *Gateway) SendChannelMessage(channelID, text string) error {
	return g.sendChunked(channelID, text)
}

func (g *Gateway) sendChunked(channelID, text string) error {
	for _, part := range chunk(text, messageLimit) {
		if _, err := g.session.ChannelMessageSend(channelID, part); err != nil {
			return fmt.Errorf("gateway: send message: %w", err)
		}
	}
	return nil
}

// chunk splits text into rune-safe pieces of at most limit characters,
// breaking at line boundaries when possible.
func chunk(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}

// IsAdministrator reports whether the user owns the guild or holds a role
// with the administrator permission.
func (g *Gateway) IsAdministrator(guildID, userID string) (bool, error) {
	guild, err := g.guild(guildID)
	if err != nil {
		return false, err
	}
	if guild.OwnerID == userID {
		return true, nil
	}
	member, err := g.session.GuildMember(guildID, userID)
	if err != nil {
		return false, fmt.Errorf("gateway: member lookup: %w", err)
	}
	for _, roleID := range member.Roles {
		for _, role := range guild.Roles {
			if role.ID == roleID && role.Permissions&discordgo.PermissionAdministrator != 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// MemberRoles returns the member's current role IDs.
func (g *Gateway) MemberRoles(guildID, userID string) ([]string, error) {
	member, err := g.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("gateway: member lookup: %w", err)
	}
	return member.Roles, nil
}

// SetMemberRoles replaces the member's role list in a single call, the
// platform's atomic form of a role transition.
func (g *Gateway) SetMemberRoles(guildID, userID string, roleIDs []string) error {
	if roleIDs == nil {
		roleIDs = []string{}
	}
	_, err := g.session.GuildMemberEdit(guildID, userID, &discordgo.GuildMemberParams{
		Roles: &roleIDs,
	})
	if err != nil {
		return fmt.Errorf("gateway: edit member roles: %w", err)
	}
	return nil
}

// RoleMemberCount counts guild members holding the role. Used once per
// guild load to seed faction population counts.
func (g *Gateway) RoleMemberCount(guildID, roleID string) (int, error) {
	count := 0
	after := ""
	for {
		members, err := g.session.GuildMembers(guildID, after, 1000)
		if err != nil {
			return 0, fmt.Errorf("gateway: list members: %w", err)
		}
		if len(members) == 0 {
			return count, nil
		}
		for _, m := range members {
			for _, r := range m.Roles {
				if r == roleID {
					count++
					break
				}
			}
		}
		after = members[len(members)-1].User.ID
		if len(members) < 1000 {
			return count, nil
		}
	}
}

// ShuffleRoles randomly reorders the listed roles among the positions they
// already occupy, obscuring any hierarchy the role order might suggest.
func (g *Gateway) ShuffleRoles(guildID string, roleIDs []string) error {
	if len(roleIDs) < 2 {
		return nil
	}
	guild, err := g.guild(guildID)
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		set[id] = true
	}
	var shuffled []*discordgo.Role
	var positions []int
	for _, role := range guild.Roles {
		if set[role.ID] {
			shuffled = append(shuffled, role)
			positions = append(positions, role.Position)
		}
	}
	if len(shuffled) < 2 {
		return nil
	}
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for i, role := range shuffled {
		role.Position = positions[i]
	}
	if _, err := g.session.GuildRoleReorder(guildID, shuffled); err != nil {
		return fmt.Errorf("gateway: reorder roles: %w", err)
	}
	return nil
}

func (g *Gateway) guild(guildID string) (*discordgo.Guild, error) {
	if guild, err := g.session.State.Guild(guildID); err == nil {
		return guild, nil
	}
	guild, err := g.session.Guild(guildID)
	if err != nil {
		return nil, fmt.Errorf("gateway: guild lookup: %w", err)
	}
	return guild, nil
}
