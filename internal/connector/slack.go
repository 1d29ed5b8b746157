package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const slackAPIBase = "https://slack.com/api"

// Slack fetches channel history over the Web API.
type Slack struct {
	token    string
	channels []string
	client   *http.Client
	baseURL  string
}

func NewSlack(token string, channels []string) *Slack {
	return &Slack{
		token:    token,
		channels: channels,
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  slackAPIBase,
	}
}

func (s *Slack) Source() string {
	return "slack"
}

type slackHistoryResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error"`
	Messages []struct {
		Type string `json:"type"`
		User string `json:"user"`
		Text string `json:"text"`
		TS   string `json:"ts"`
	} `json:"messages"`
}

func (s *Slack) FetchEvents(ctx context.Context, since time.Time) ([]RawEvent, error) {
	var events []RawEvent

	for _, channelID := range s.channels {
		history, err := s.channelHistory(ctx, channelID, since)
		if err != nil {
			return nil, err
		}

		for _, msg := range history.Messages {
			if msg.Type != "message" || msg.Text == "" {
				continue
			}

			occurred, err := parseSlackTS(msg.TS)
			if err != nil {
				continue
			}

			events = append(events, RawEvent{
				Source:         "slack",
				ExternalID:     channelID + ":" + msg.TS,
				EventType:      "message",
				Title:          msg.User,
				OccurredAt:     occurred,
				EmbeddableText: msg.Text,
				Metadata: map[string]any{
					"channel_id": channelID,
					"user":       msg.User,
				},
			})
		}
	}

	return events, nil
}

func (s *Slack) channelHistory(ctx context.Context, channelID string, since time.Time) (*slackHistoryResponse, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("limit", "100")
	if !since.IsZero() {
		params.Set("oldest", fmt.Sprintf("%d.000000", since.Unix()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/conversations.history?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack fetch channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack API returned %d: %s", resp.StatusCode, string(body))
	}

	var history slackHistoryResponse
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("slack response parse: %w", err)
	}
	if !history.OK {
		return nil, fmt.Errorf("slack API error: %s", history.Error)
	}

	return &history, nil
}

// parseSlackTS converts Slack's "seconds.micros" timestamp format.
func parseSlackTS(ts string) (time.Time, error) {
	parts := strings.SplitN(ts, ".", 2)
	secs, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	var micros int64
	if len(parts) == 2 {
		micros, _ = strconv.ParseInt(parts[1], 10, 64)
	}

	return time.Unix(secs, micros*1000).UTC(), nil
}
