// Package discord turns Discord mentions and DMs into chat-triggered jobs
// and relays job results back to the originating channel. One bot session
// serves every agent that carries a `chat: discord:` block.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/chatsess"
	"github.com/nextlevelbuilder/herdctl/internal/fleet"
	"github.com/nextlevelbuilder/herdctl/internal/state"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// Platform is the chat platform key in agent configs.
const Platform = "discord"

// maxMessageLen is Discord's hard message size limit.
const maxMessageLen = 2000

// AgentConfig is the per-agent `chat: discord:` block.
type AgentConfig struct {
	// ChannelID restricts the agent to one channel. Empty accepts DMs and
	// any mention.
	ChannelID string `yaml:"channel_id,omitempty"`

	// RequireMention gates guild messages on an @bot mention (default true).
	RequireMention *bool `yaml:"require_mention,omitempty"`

	// AllowFrom is a user-id allowlist; empty allows everyone.
	AllowFrom []string `yaml:"allow_from,omitempty"`
}

func (c AgentConfig) requireMention() bool {
	return c.RequireMention == nil || *c.RequireMention
}

func (c AgentConfig) allows(userID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}
	for _, id := range c.AllowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// route binds one agent to its discord config.
type route struct {
	agent string // qualified name
	cfg   AgentConfig
}

// Connector is the fleet-wide Discord bot.
type Connector struct {
	session  *discordgo.Session
	mgr      *fleet.Manager
	sessions *chatsess.Store

	botUserID string
	routes    []route

	sub *bus.Subscription

	mu      sync.Mutex
	running bool
	pending map[string]string // jobID -> reply channel
}

// New builds the connector from a bot token. Routes are resolved from the
// manager's loaded config at Start.
func New(token string, mgr *fleet.Manager, sessions *chatsess.Store) (*Connector, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Connector{
		session:  session,
		mgr:      mgr,
		sessions: sessions,
		pending:  make(map[string]string),
	}, nil
}

// decodeAgentConfig converts the loader's opaque chat block into AgentConfig.
func decodeAgentConfig(raw any) (AgentConfig, error) {
	var cfg AgentConfig
	data, err := yaml.Marshal(raw)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Start opens the gateway connection and begins routing messages.
func (c *Connector) Start(_ context.Context) error {
	cfg := c.mgr.Config()
	for _, agent := range cfg.Agents {
		raw, ok := agent.Chat[Platform]
		if !ok {
			continue
		}
		ac, err := decodeAgentConfig(raw)
		if err != nil {
			return fmt.Errorf("agent %s: discord chat config: %w", agent.QualifiedName, err)
		}
		c.routes = append(c.routes, route{agent: agent.QualifiedName, cfg: ac})
	}
	if len(c.routes) == 0 {
		return fmt.Errorf("no agent has a discord chat block")
	}

	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	// Relay job results for chat-triggered jobs back to their channel.
	c.sub = c.mgr.Bus().Subscribe(
		[]string{protocol.EventJobCompleted, protocol.EventJobFailed, protocol.EventJobCancelled},
		0, c.handleJobEvent)

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	slog.Info("discord.connected", "username", user.Username, "id", user.ID, "agents", len(c.routes))
	return nil
}

// Stop closes the gateway connection.
func (c *Connector) Stop(_ context.Context) error {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	if c.sub != nil {
		c.sub.Close()
	}
	return c.session.Close()
}

// resolveRoute picks the agent a message targets: an exact channel binding
// wins; otherwise the first unbound route takes DMs and mentions.
func (c *Connector) resolveRoute(channelID string) *route {
	for i := range c.routes {
		if c.routes[i].cfg.ChannelID == channelID {
			return &c.routes[i]
		}
	}
	for i := range c.routes {
		if c.routes[i].cfg.ChannelID == "" {
			return &c.routes[i]
		}
	}
	return nil
}

func (c *Connector) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return
	}

	channelID := m.ChannelID
	isDM := m.GuildID == ""
	rt := c.resolveRoute(channelID)
	if rt == nil {
		return
	}
	if !rt.cfg.allows(m.Author.ID) {
		slog.Debug("discord.message_rejected", "user", m.Author.ID, "agent", rt.agent)
		return
	}

	if !isDM && rt.cfg.requireMention() {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
	}

	content := strings.TrimSpace(stripMention(m.Content, c.botUserID))
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	// The channel's bound runner session carries the conversation across
	// messages; the first job of a fresh conversation starts without one.
	sessionID := c.sessions.GetSession(rt.agent, channelID)
	if _, err := c.sessions.GetOrCreateSession(rt.agent, channelID); err != nil {
		slog.Warn("discord.session_store_failed", "agent", rt.agent, "error", err)
	}

	prompt := content
	if !isDM {
		prompt = fmt.Sprintf("[From: %s]\n%s", displayName(m), content)
	}

	res, err := c.mgr.Trigger(rt.agent, fleet.TriggerOptions{
		Prompt:      prompt,
		TriggerType: state.TriggerChat,
		SessionID:   sessionID,
	})
	if err != nil {
		slog.Warn("discord.trigger_failed", "agent", rt.agent, "error", err)
		c.reply(channelID, "Could not start a job: "+err.Error())
		return
	}

	c.mu.Lock()
	c.pending[res.JobID] = channelID
	c.mu.Unlock()

	if err := c.session.ChannelTyping(channelID); err != nil {
		slog.Debug("discord.typing_failed", "error", err)
	}
	slog.Debug("discord.job_started", "agent", rt.agent, "job", res.JobID, "channel", channelID)
}

// handleJobEvent relays the outcome of a chat-triggered job.
func (c *Connector) handleJobEvent(ev bus.Event) {
	var job *state.Job
	var text string
	switch p := ev.Payload.(type) {
	case bus.JobCompletedPayload:
		job = p.Job
		text = p.Job.Summary
		if text == "" {
			text = "Done."
		}
	case bus.JobFailedPayload:
		job = p.Job
		text = "Job failed: " + p.Error.Message
	case bus.JobCancelledPayload:
		job = p.Job
		text = "Job cancelled."
	default:
		return
	}

	c.mu.Lock()
	channelID, ok := c.pending[job.ID]
	if ok {
		delete(c.pending, job.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	// Bind the runner session announced during the job so the next message
	// in this channel resumes the same conversation.
	if job.SessionID != "" {
		if err := c.sessions.BindSession(job.Agent, channelID, job.SessionID); err != nil {
			slog.Warn("discord.session_bind_failed", "agent", job.Agent, "error", err)
		}
	}
	c.reply(channelID, text)
}

// reply sends a message, chunked under Discord's size limit, breaking at
// newlines when one falls in the second half of the chunk.
func (c *Connector) reply(channelID, content string) {
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := strings.LastIndexByte(content[:maxMessageLen], '\n'); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = content[:cutAt]
			content = content[cutAt:]
		} else {
			content = ""
		}
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			slog.Warn("discord.send_failed", "channel", channelID, "error", err)
			return
		}
	}
}

// stripMention removes the bot's own mention token from a message.
func stripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	return strings.ReplaceAll(content, "<@!"+botID+">", "")
}

// displayName picks nickname > global name > username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
