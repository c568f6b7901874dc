package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"cobrarelay/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultTokenURL is the Bot Framework client-credentials endpoint.
	DefaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"

	tokenScope = "https://api.botframework.com/.default"

	// tokenExpirySlack refreshes tokens slightly before they expire.
	tokenExpirySlack = 60 * time.Second

	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
)

type Client interface {
	SendActivity(ctx context.Context, serviceURL, conversationID, text string) (string, error)
	ParseActivity(raw []byte) (*Activity, error)
}

type TeamsClient struct {
	appID       string
	appPassword string
	tokenURL    string
	client      *http.Client
	breaker     *circuitbreaker.Breaker
	logger      *logrus.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(appID, appPassword, tokenURL string, httpClient *http.Client) Client {
	return NewClientWithLogger(appID, appPassword, tokenURL, httpClient, nil)
}

func NewClientWithLogger(appID, appPassword, tokenURL string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	return &TeamsClient{
		appID:       appID,
		appPassword: appPassword,
		tokenURL:    tokenURL,
		client:      httpClient,
		breaker:     circuitbreaker.New("teams", breakerMaxFailures, breakerCooldown, logger),
		logger:      logger,
	}
}

// SendActivity posts a proactive message activity into an existing
// conversation and returns the created activity id.
func (c *TeamsClient) SendActivity(ctx context.Context, serviceURL, conversationID, text string) (string, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return "", err
	}

	activity := Activity{
		Type: ActivityTypeMessage,
		From: ChannelAccount{ID: c.appID},
		Text: text,
	}
	jsonData, err := json.Marshal(activity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal activity: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v3/conversations/%s/activities",
		strings.TrimSuffix(serviceURL, "/"), url.PathEscape(conversationID))

	c.logger.WithField("endpoint", endpoint).Debug("Sending Teams activity")

	// Platform rejections (4xx) pass through without counting against the
	// breaker; only transport failures and server errors trip it.
	var result sendResponse
	var apiErr *APIError
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

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
			return nil
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if apiErr != nil {
		return "", apiErr
	}
	return result.ID, nil
}

// ParseActivity decodes an incoming activity payload.
func (c *TeamsClient) ParseActivity(raw []byte) (*Activity, error) {
	var activity Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil, fmt.Errorf("failed to decode activity: %w", err)
	}

	if activity.Type == "" {
		return nil, fmt.Errorf("activity missing type")
	}
	if activity.Type == ActivityTypeMessage && (activity.Conversation == nil || activity.Conversation.ID == "") {
		return nil, fmt.Errorf("message activity missing conversation id")
	}

	return &activity, nil
}

// getToken returns a cached Bot Framework token, refreshing when needed.
// Auth is skipped entirely when no app credentials are configured, which is
// how the emulator and local integration tests run.
func (c *TeamsClient) getToken(ctx context.Context) (string, error) {
	if c.appID == "" || c.appPassword == "" {
		return "", nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.appID},
		"client_secret": {c.appPassword},
		"scope":         {tokenScope},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	c.token = tr.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpirySlack)

	return c.token, nil
}
