package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/config"
	"github.com/atuona/mediabot/pkg/utils"
)

const (
	telegramName       = "telegram"
	maxCaptionLength   = 1024
	maxMessageLength   = 4096
	telegramHelpText   = "Commands:\n/visualize <contentId> <prompt> - generate image and video\n/videostatus <contentId> - check a pending video\n/gallery [n] - recent visualizations"
	telegramGreeting   = "👋 Hi! I turn prompts into images and short videos.\n\n"
	uploadFallbackNote = "uploading %s failed, sending link"
)

// sender is the slice of the Bot API used for outbound messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel implements the Telegram channel.
type TelegramChannel struct {
	BaseChannel
	Config *config.TelegramConfig
	logger zerolog.Logger

	bot    *tgbotapi.BotAPI
	api    sender
	fetch  func(ctx context.Context, url string) (io.ReadCloser, string, error)
	cancel context.CancelFunc
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus, logger zerolog.Logger) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		logger: logger.With().Str("channel", telegramName).Logger(),
		fetch:  utils.GetMediaReader,
	}
}

func (c *TelegramChannel) Name() string {
	return telegramName
}

// Start authorizes the bot and consumes updates until ctx is done.
func (c *TelegramChannel) Start(ctx context.Context) error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}

	bot, err := tgbotapi.NewBotAPI(c.Config.Token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	c.bot = bot
	c.api = bot
	c.logger.Info().Str("account", bot.Self.UserName).Msg("telegram: bot authorized")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				c.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

// Send delivers text, or a photo or video. Media is first offered to Telegram
// by URL, then uploaded from a local download, and finally sent as a link.
func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %s", msg.ChatID)
	}

	if msg.MediaURL == "" || msg.MediaKind == bus.MediaNone {
		if msg.Content == "" {
			return nil
		}
		_, err := c.api.Send(tgbotapi.NewMessage(chatID, truncateRunes(msg.Content, maxMessageLength)))
		return err
	}

	caption := truncateRunes(msg.Content, maxCaptionLength)
	_, err = c.api.Send(mediaMessage(chatID, msg.MediaKind, tgbotapi.FileURL(msg.MediaURL), caption))
	if err == nil {
		return nil
	}
	c.logger.Warn().Err(err).Str("kind", string(msg.MediaKind)).Msg("telegram: send by URL rejected, uploading")

	if err = c.upload(ctx, chatID, msg.MediaKind, msg.MediaURL, caption); err == nil {
		return nil
	}
	c.logger.Warn().Err(err).Msgf(uploadFallbackNote, msg.MediaKind)

	text := fmt.Sprintf("%s\n%s", msg.Content, msg.MediaURL)
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, truncateRunes(text, maxMessageLength))); err != nil {
		return fmt.Errorf("telegram: deliver %s: %w", msg.MediaKind, err)
	}
	return nil
}

func (c *TelegramChannel) upload(ctx context.Context, chatID int64, kind bus.MediaKind, url, caption string) error {
	if c.fetch == nil {
		return errors.New("no media fetcher")
	}
	reader, name, err := c.fetch(ctx, url)
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = c.api.Send(mediaMessage(chatID, kind, tgbotapi.FileReader{Name: name, Reader: reader}, caption))
	return err
}

func mediaMessage(chatID int64, kind bus.MediaKind, file tgbotapi.RequestFileData, caption string) tgbotapi.Chattable {
	if kind == bus.MediaVideo {
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = caption
		video.SupportsStreaming = true
		return video
	}
	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = caption
	return photo
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg.From == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.UserName != "" {
		senderID = fmt.Sprintf("%s|%s", senderID, msg.From.UserName)
	}
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			if !c.IsAllowed(senderID) {
				return
			}
			text := telegramHelpText
			if msg.Command() == "start" {
				text = telegramGreeting + telegramHelpText
			}
			if _, err := c.api.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
				c.logger.Warn().Err(err).Msg("telegram: send help")
			}
			return
		}
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	metadata := map[string]interface{}{
		"message_id": msg.MessageID,
		"username":   msg.From.UserName,
		"first_name": msg.From.FirstName,
	}
	if err := c.HandleMessage(ctx, c.Name(), senderID, chatID, content, metadata); err != nil {
		c.logger.Warn().Err(err).Msg("telegram: publish inbound")
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
