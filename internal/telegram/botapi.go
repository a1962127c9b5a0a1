package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotAPIClient implements the parts of Client the Telegram Bot API can
// serve: entity metadata for chats the bot belongs to, and media byte
// transfer via getFile. History paging is an MTProto capability the Bot
// API does not expose, so FetchMessageBatch always reports
// ErrHistoryUnavailable.
type BotAPIClient struct {
	bot     *tgbot.Bot
	http    *http.Client
	chatIDs []int64
	logger  *slog.Logger
}

// NewBotAPIClient creates a Bot API backed client for the given chat IDs.
func NewBotAPIClient(token string, chatIDs []int64, timeout time.Duration, logger *slog.Logger) (*BotAPIClient, error) {
	b, err := tgbot.New(token, tgbot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create bot api client: %w", err)
	}
	return &BotAPIClient{
		bot:     b,
		http:    &http.Client{Timeout: timeout},
		chatIDs: chatIDs,
		logger:  logger.With("component", "botapi"),
	}, nil
}

// ListEntities resolves each configured chat ID through getChat.
func (c *BotAPIClient) ListEntities(ctx context.Context) ([]EntityDescriptor, error) {
	entities := make([]EntityDescriptor, 0, len(c.chatIDs))
	for _, id := range c.chatIDs {
		chat, err := c.bot.GetChat(ctx, &tgbot.GetChatParams{ChatID: id})
		if err != nil {
			wrapped := translateBotAPIError(err)
			if errors.Is(wrapped, ErrEntityInaccessible) {
				c.logger.WarnContext(ctx, "Chat not accessible, skipping", "chat_id", id, "error", err)
				continue
			}
			return nil, fmt.Errorf("getChat %d: %w", id, wrapped)
		}
		entities = append(entities, EntityDescriptor{
			ID:   chat.ID,
			Name: chatDisplayName(chat),
			Kind: chatKind(chat.Type),
		})
	}
	return entities, nil
}

// FetchMessageBatch is not supported over the Bot API.
func (c *BotAPIClient) FetchMessageBatch(context.Context, int64, Cursor, int) ([]Message, Cursor, error) {
	return nil, Cursor{}, ErrHistoryUnavailable
}

// FetchMediaBytes resolves the file through getFile and streams it from
// the file download endpoint. The caller owns the returned reader.
func (c *BotAPIClient) FetchMediaBytes(ctx context.Context, desc MediaDescriptor) (io.ReadCloser, error) {
	if desc.FileID == "" {
		return nil, errors.New("telegram: media descriptor has no file reference")
	}

	file, err := c.bot.GetFile(ctx, &tgbot.GetFileParams{FileID: desc.FileID})
	if err != nil {
		return nil, fmt.Errorf("getFile %q: %w", desc.FileID, translateBotAPIError(err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.bot.FileDownloadLink(file), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			wait := 5 * time.Second
			if s := resp.Header.Get("Retry-After"); s != "" {
				if d, parseErr := time.ParseDuration(s + "s"); parseErr == nil {
					wait = d
				}
			}
			return nil, &FloodWaitError{RetryAfter: wait}
		}
		return nil, fmt.Errorf("media download: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// translateBotAPIError maps go-telegram/bot errors onto this package's
// taxonomy so the flood policy and engine never see library types.
func translateBotAPIError(err error) error {
	if err == nil {
		return nil
	}
	var tooMany *tgbot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &FloodWaitError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second}
	}
	if errors.Is(err, tgbot.ErrorForbidden) || errors.Is(err, tgbot.ErrorNotFound) {
		return fmt.Errorf("%w: %w", ErrEntityInaccessible, err)
	}
	return err
}

func chatDisplayName(chat *models.ChatFullInfo) string {
	if chat.Title != "" {
		return chat.Title
	}
	name := chat.FirstName
	if chat.LastName != "" {
		name += " " + chat.LastName
	}
	if name == "" {
		name = chat.Username
	}
	return name
}

func chatKind(t models.ChatType) EntityKind {
	switch t {
	case models.ChatTypePrivate:
		return KindPrivate
	case models.ChatTypeGroup:
		return KindGroup
	case models.ChatTypeSupergroup:
		return KindSupergroup
	case models.ChatTypeChannel:
		return KindChannel
	default:
		return KindGroup
	}
}
