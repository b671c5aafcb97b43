package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"fleetwatch/internal/codec"
	"fleetwatch/internal/config"
)

// discordMessageLimit is Discord's per-message content limit in characters.
const discordMessageLimit = 2000

type DiscordSender struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordSender(token string, channelID string) (*DiscordSender, error) {
	token = strings.TrimSpace(token)
	channelID = strings.TrimSpace(channelID)
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("discord sender needs a token and a channel id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordSender{session: session, channelID: channelID}, nil
}

func (s *DiscordSender) Send(ctx context.Context, text string) error {
	text = truncateRunes(text, discordMessageLimit)
	_, err := s.session.ChannelMessageSendComplex(s.channelID, &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// truncateRunes cuts text to at most limit runes, marking the cut with "...".
func truncateRunes(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-3]) + "..."
}

const telegramAPI = "https://api.telegram.org"

type TelegramSender struct {
	client  *http.Client
	baseURL string
	token   string
	chatID  string
}

func NewTelegramSender(token string, chatID string) (*TelegramSender, error) {
	token = strings.TrimSpace(token)
	chatID = strings.TrimSpace(chatID)
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram sender needs a token and a chat id")
	}
	return &TelegramSender{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
	}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSender) Send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("text", text)
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	var decoded telegramResponse
	if err := codec.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode telegram response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !decoded.OK {
		return fmt.Errorf("telegram send rejected (status %d): %s", resp.StatusCode, decoded.Description)
	}
	return nil
}

// NewDirectSender builds the configured fallback sender. An empty kind
// returns nil, nil.
func NewDirectSender(cfg config.DirectConfig) (DirectSender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case config.DirectKindNone:
		return nil, nil
	case config.DirectKindDiscord:
		return NewDiscordSender(cfg.DiscordToken, cfg.DiscordChannelID)
	case config.DirectKindTelegram:
		return NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
	default:
		return nil, fmt.Errorf("unknown direct sender kind %q", cfg.Kind)
	}
}
