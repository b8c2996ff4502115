// Package telegram announces tools to a Telegram channel through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"towncrier/internal/config"
	"towncrier/internal/httpx"
	"towncrier/internal/platform"
	"towncrier/internal/tool"
	"towncrier/pkg/logx"
)

const Name = "telegram"

const messageLimit = 4096

// Settings is the telegram-specific settings block.
type Settings struct {
	// Channel is a @username or a numeric chat id.
	Channel string `json:"channel"`
	// DisablePreview suppresses the link preview card.
	DisablePreview bool `json:"disable_preview,omitempty"`
}

type Adapter struct {
	platform.Base
	settings Settings

	// apiURL overrides the Bot API endpoint (tests).
	apiURL string

	mu  sync.Mutex
	bot *tele.Bot
}

func New(pc config.PlatformConfig, deps platform.Deps) (*Adapter, error) {
	base, err := platform.NewBase(Name, pc, deps, platform.CapPostURL, platform.CapDelete)
	if err != nil {
		return nil, err
	}
	settings, err := platform.DecodeSettings[Settings](pc.Settings)
	if err != nil {
		return nil, fmt.Errorf("telegram settings: %w", err)
	}
	return &Adapter{Base: base, settings: settings, apiURL: pc.BaseURL}, nil
}

func (a *Adapter) ValidateConfig() platform.ValidationResult {
	if !a.Enabled() {
		return platform.OKValidation()
	}
	v := platform.OKValidation()
	if a.Auth.Token == "" {
		v.Addf("auth.token is required")
	}
	if a.settings.Channel == "" {
		v.Addf("settings.channel is required")
	}
	return v
}

// Authenticate builds the bot, which verifies the token via getMe.
func (a *Adapter) Authenticate(ctx context.Context) bool {
	bot, err := tele.NewBot(tele.Settings{
		Token:  a.Auth.Token,
		URL:    a.apiURL,
		Client: a.Client,
	})
	if err != nil {
		a.Log.Error("bot init failed", logx.Err(err))
		return false
	}
	a.mu.Lock()
	a.bot = bot
	a.mu.Unlock()
	a.Log.Debug("bot authenticated", logx.String("username", bot.Me.Username))
	return true
}

func (a *Adapter) IsAuthenticated(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bot != nil
}

// recipient resolves the configured channel into a telebot recipient.
func (a *Adapter) recipient() tele.Recipient {
	if id, err := strconv.ParseInt(a.settings.Channel, 10, 64); err == nil {
		return tele.ChatID(id)
	}
	return channelName(a.settings.Channel)
}

type channelName string

func (c channelName) Recipient() string {
	s := string(c)
	if !strings.HasPrefix(s, "@") {
		return "@" + s
	}
	return s
}

func (a *Adapter) FormatContent(t *tool.Tool) (*platform.FormattedContent, error) {
	title := platform.RenderTitle(a.TitleTemplate, t, time.Now())
	if title == "" {
		title = t.Name + ": " + t.ShortDescription
	}

	var body strings.Builder
	fmt.Fprintf(&body, "*%s*\n\n", title)
	body.WriteString(t.LongDescription)
	body.WriteString("\n\n")
	body.WriteString(t.URL)

	return &platform.FormattedContent{
		Title:    title,
		Body:     platform.TruncateRunes(body.String(), messageLimit),
		URL:      t.URL,
		Tags:     t.Tags,
		Metadata: map[string]any{},
	}, nil
}

func (a *Adapter) Publish(ctx context.Context, t *tool.Tool, content *platform.FormattedContent) platform.PublishResult {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return platform.ResultFromError(httpx.Auth("bot not authenticated"))
	}

	var msg *tele.Message
	err := a.Execute(ctx, func(ctx context.Context) error {
		sent, serr := bot.Send(a.recipient(), content.Body, &tele.SendOptions{
			ParseMode:             tele.ModeMarkdown,
			DisableWebPagePreview: a.settings.DisablePreview,
		})
		if serr != nil {
			return classify(serr)
		}
		msg = sent
		return nil
	})
	if err != nil {
		return platform.ResultFromError(err)
	}

	postID := strconv.Itoa(msg.ID)
	a.Log.Info("channel message sent", logx.String("message_id", postID))
	return platform.PublishResult{Success: true, PostID: postID, URL: a.PostURL(postID)}
}

// classify maps Bot API errors onto the shared taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case tele.FloodError:
		return httpx.Transient(fmt.Sprintf("flood limited, retry after %ds", e.RetryAfter))
	case *tele.FloodError:
		return httpx.Transient(fmt.Sprintf("flood limited, retry after %ds", e.RetryAfter))
	}
	switch err {
	case tele.ErrUnauthorized:
		return httpx.Auth("bot token rejected")
	case tele.ErrChatNotFound:
		return httpx.Config("channel not found")
	case tele.ErrNoRightsToSend:
		return httpx.Permanent("bot lacks permission to post in channel")
	}
	if ae, ok := err.(*tele.Error); ok {
		return httpx.FromStatus(ae.Code, ae.Description)
	}
	return httpx.FromTransport(err)
}

// PostURL works only for public channels with a username.
func (a *Adapter) PostURL(postID string) string {
	ch := strings.TrimPrefix(a.settings.Channel, "@")
	if _, err := strconv.ParseInt(ch, 10, 64); err == nil {
		return ""
	}
	return "https://t.me/" + ch + "/" + postID
}

func (a *Adapter) DeletePost(ctx context.Context, postID string) error {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return httpx.Auth("bot not authenticated")
	}
	// Raw instead of bot.Delete: Editable carries chat ids as int64 only,
	// which cannot address a channel by @username.
	return a.Execute(ctx, func(ctx context.Context) error {
		_, err := bot.Raw("deleteMessage", map[string]string{
			"chat_id":    a.recipient().Recipient(),
			"message_id": postID,
		})
		if err != nil {
			return classify(err)
		}
		return nil
	})
}
