package groupme

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cobrarelay/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const (
	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
)

type Client interface {
	PostBotMessage(ctx context.Context, botID, text string) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	ParseCallback(raw []byte) (*CallbackMessage, error)
}

type GroupMeClient struct {
	baseURL     string
	accessToken string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	logger      *logrus.Logger
}

func NewClient(baseURL, accessToken string, httpClient *http.Client) Client {
	return NewClientWithLogger(baseURL, accessToken, httpClient, nil)
}

func NewClientWithLogger(baseURL, accessToken string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &GroupMeClient{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		client:      httpClient,
		breaker:     circuitbreaker.New("groupme", breakerMaxFailures, breakerCooldown, logger),
		logger:      logger,
	}
}

// PostBotMessage posts text to a group through the bot post endpoint. GroupMe
// accepts with 201 or 202 and returns no body, so no message id comes back.
func (c *GroupMeClient) PostBotMessage(ctx context.Context, botID, text string) error {
	payload := botPostRequest{BotID: botID, Text: text}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bots/post", c.baseURL)

	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"bot_id":   botID,
	}).Debug("Posting GroupMe bot message")

	// Platform rejections (4xx) pass through without counting against the
	// breaker; only transport failures and server errors trip it.
	var apiErr *APIError
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			apiErr = &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	return nil
}

// GetGroup fetches group metadata. Requires an access token.
func (c *GroupMeClient) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	endpoint := fmt.Sprintf("%s/groups/%s?token=%s", c.baseURL, url.PathEscape(groupID), url.QueryEscape(c.accessToken))

	var group *Group
	var apiErr *APIError
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			apiErr = &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return apiErr
			}
			return nil
		}

		var envelope groupEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		group = &envelope.Response
		return nil
	})
	if err != nil {
		return nil, err
	}
	if apiErr != nil {
		return nil, apiErr
	}
	return group, nil
}

// ParseCallback decodes a bot callback payload.
func (c *GroupMeClient) ParseCallback(raw []byte) (*CallbackMessage, error) {
	var msg CallbackMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode callback: %w", err)
	}

	if msg.GroupID == "" || msg.ID == "" {
		return nil, fmt.Errorf("callback missing group_id or message id")
	}

	return &msg, nil
}
