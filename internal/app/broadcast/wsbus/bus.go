/*
Package wsbus is a Broadcaster backed by the chatsync relay.

Joining a topic asks the relay's HTTP API for a channel token and then holds one
websocket per joined topic. Events arrive on a per-channel read goroutine and
the connection is re-established with backoff after a failure; anything
published while disconnected is lost.
*/
package wsbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatsync/internal/app/backend"
	"chatsync/internal/app/relay"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
	"chatsync/internal/pkg/resp"
)

const (
	maxNicknameRunes = 80
	tokenTimeout     = 10 * time.Second
)

// Options configures a Bus.
type Options struct {
	// BaseURL is the relay's HTTP origin, e.g. "http://localhost:8080".
	BaseURL string

	// IdentityToken is the signed-in user's identity JWT, if any. It is
	// required to appear under a "user:" presence key.
	IdentityToken string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Bus joins relay topics.
type Bus struct {
	opts   Options
	wsBase string
	logger zerolog.Logger
}

var _ backend.Broadcaster = (*Bus)(nil)

// New validates opts and returns a Bus.
func New(opts Options) (*Bus, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid relay url %q", opts.BaseURL)
	}

	ws := *base
	switch base.Scheme {
	case "http":
		ws.Scheme = "ws"
	case "https":
		ws.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid relay url %q: scheme must be http or https", opts.BaseURL)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: tokenTimeout}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	opts.BaseURL = base.String()

	return &Bus{
		opts:   opts,
		wsBase: ws.String(),
		logger: logx.Component("wsbus"),
	}, nil
}

// Join requests a channel token for self and connects to topic. ctx bounds the
// token request and the first dial only.
func (b *Bus) Join(ctx context.Context, topic string, self backend.Member, handler backend.BroadcastHandler) (backend.Channel, error) {
	if topic == "" || self.Key == "" {
		return nil, errs.NewError(errs.ErrTopicInvalid)
	}

	ch := newChannel(b, topic, self, handler)
	if err := ch.connect(ctx); err != nil {
		ch.cancel()
		return nil, err
	}

	go ch.run()

	b.logger.Debug().Str("topic", topic).Str("member_key", self.Key).Msg("Joined relay topic.")
	return ch, nil
}

// channelToken asks the relay for a token admitting self to topic.
func (b *Bus) channelToken(ctx context.Context, topic string, self backend.Member) (string, error) {
	nickname := strings.TrimSpace(self.DisplayName)
	if utf8.RuneCountInString(nickname) > maxNicknameRunes {
		nickname = string([]rune(nickname)[:maxNicknameRunes])
	}

	body, err := json.Marshal(relay.ChannelTokenRequest{
		Topic:    topic,
		Key:      self.Key,
		Nickname: nickname,
		Color:    self.Color,
	})
	if err != nil {
		return "", errs.NewError(errs.ErrUnknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.BaseURL+"/api/channel/token", bytes.NewReader(body))
	if err != nil {
		return "", errs.NewError(errs.ErrUnknown, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.opts.IdentityToken != "" {
		req.Header.Set("Authorization", "Bearer "+b.opts.IdentityToken)
	}

	res, err := b.opts.HTTPClient.Do(req)
	if err != nil {
		return "", errs.NewError(errs.ErrBackendUnavailable).Wrap(err)
	}
	defer res.Body.Close()

	var envelope resp.JSONResponse
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return "", errs.NewError(errs.ErrBackendUnavailable).Wrap(fmt.Errorf("relay returned HTTP %d: %w", res.StatusCode, err))
	}

	if envelope.Code != 0 {
		return "", errs.NewError(envelope.Code)
	}

	var data relay.ChannelTokenResponse
	if err := json.Unmarshal(envelope.Data, &data); err != nil || data.Token == "" {
		return "", errs.NewError(errs.ErrBackendUnavailable).Wrap(fmt.Errorf("relay returned no channel token"))
	}
	return data.Token, nil
}

func (b *Bus) topicURL(topic, token string) string {
	return b.wsBase + "/ws/" + url.PathEscape(topic) + "?token=" + url.QueryEscape(token)
}
