// Package history loads the initial conversation snapshot from the REST
// collaborator and owns the credential source shared with the channel.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/appointly/chatsync/internal/core"
	"github.com/appointly/chatsync/internal/proto"
	"github.com/appointly/chatsync/internal/sanitize"
)

// Client fetches conversation history. A non-nil error is a conversation
// level failure, distinct from an empty conversation (nil error, empty
// slice): the two need different UI treatment.
type Client struct {
	baseURL string
	tokens  *CachedTokenSource
	http    *http.Client
	log     *zerolog.Logger
}

// NewClient builds a history client against baseURL.
func NewClient(baseURL string, tokens *CachedTokenSource, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logger,
	}
}

// Fetch returns the conversation with otherID, oldest first. Content is
// sanitized and attachments normalized here, once, at ingestion.
func (c *Client) Fetch(ctx context.Context, otherID int64) ([]core.Message, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("history auth: %w", err)
	}

	url := fmt.Sprintf("%s/api/conversations/%d/messages", c.baseURL, otherID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request: unexpected status %d", resp.StatusCode)
	}

	var wire []proto.WireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	out := make([]core.Message, 0, len(wire))
	for _, w := range wire {
		msg, err := w.ToMessage()
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed history entry")
			continue
		}
		if !msg.Valid() {
			c.log.Warn().Str("id", msg.ID).Msg("dropping history entry with missing parties")
			continue
		}
		if sanitize.ContainsMarkup(msg.Content) {
			msg.Content = sanitize.Strip(msg.Content)
		}
		out = append(out, msg)
	}
	return out, nil
}
