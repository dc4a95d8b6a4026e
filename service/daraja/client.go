package daraja

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	authPath     = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	tokenMargin  = 60 * time.Second
	defaultTTL   = 3599 * time.Second
	maxAmount    = 70000
	minAmount    = 1
	defaultTries = 3
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
	MaxAttempts    int
	RetryInterval  time.Duration
}

// Client talks to the Safaricom Daraja API.
type Client struct {
	opts       Options
	HttpClient *http.Client
	log        *logrus.Entry
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates a Daraja client with a TLS 1.2 transport.
func New(opts Options, log *logrus.Entry) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultTries
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:    10,
		IdleConnTimeout: 30 * time.Second,
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{
		opts:       opts,
		HttpClient: &http.Client{Transport: tr, Timeout: opts.Timeout},
		log:        log.WithField("component", "daraja"),
		now:        time.Now,
	}
}

// Configured reports whether every setting needed for a live push is present.
func (c *Client) Configured() bool {
	return len(c.MissingSettings()) == 0
}

func (c *Client) MissingSettings() []string {
	var missing []string
	for name, value := range map[string]string{
		"MPESA_BASE_URL":        c.opts.BaseURL,
		"MPESA_CONSUMER_KEY":    c.opts.ConsumerKey,
		"MPESA_CONSUMER_SECRET": c.opts.ConsumerSecret,
		"MPESA_SHORTCODE":       c.opts.ShortCode,
		"MPESA_PASSKEY":         c.opts.Passkey,
		"MPESA_CALLBACK_URL":    c.opts.CallbackURL,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// GetAuthToken returns the cached token while it is valid, otherwise it
// exchanges the consumer credentials for a new one.
func (c *Client) GetAuthToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	if c.opts.ConsumerKey == "" || c.opts.ConsumerSecret == "" {
		return "", fmt.Errorf("%w: missing consumer key or secret", ErrAuth)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+authPath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.opts.ConsumerKey + ":" + c.opts.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s, body: %s", ErrAuth, resp.Status, string(respBody))
	}

	var auth AuthResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuth)
	}

	ttl := time.Duration(auth.ExpiresInSeconds()) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	ttl -= tokenMargin
	if ttl < 0 {
		ttl = 0
	}

	c.mu.Lock()
	c.token = auth.AccessToken
	c.expiresAt = c.now().Add(ttl)
	c.mu.Unlock()

	c.log.WithField("expires_in", ttl.String()).Debug("obtained gateway auth token")
	return auth.AccessToken, nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// Password is base64(shortcode + passkey + timestamp).
func (c *Client) Password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.opts.ShortCode + c.opts.Passkey + timestamp))
}

func (c *Client) timestamp() string {
	return c.now().In(Nairobi).Format(timestampLayout)
}

// BuildSTKPushRequest validates the amount and phone and fills the wire request.
func (c *Client) BuildSTKPushRequest(request PushRequest) (*STKPushRequest, error) {
	if request.Amount < minAmount || request.Amount > maxAmount {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, request.Amount)
	}
	phone, err := FormatPhoneNumber(request.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if !IsKnownMobilePrefix(phone) {
		c.log.WithField("phone", phone).Warn("phone number may not be a valid Kenyan mobile")
	}

	ts := c.timestamp()
	return &STKPushRequest{
		BusinessShortCode: c.opts.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		TransactionType:   TransactionTypePayBill,
		Amount:            request.Amount,
		PartyA:            phone,
		PartyB:            c.opts.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.opts.CallbackURL,
		AccountReference:  truncate(request.AccountReference, MaxAccountReferenceLen),
		TransactionDesc:   truncate(request.Description, MaxDescriptionLen),
	}, nil
}

var errTokenRejected = errors.New("gateway rejected the auth token")

// InitiateSTKPush sends an STK push. Network failures and 5xx responses are
// tried at most MaxAttempts times. A 401 invalidates the cached token and
// earns one extra try on top of that.
func (c *Client) InitiateSTKPush(ctx context.Context, request PushRequest) (*STKPushResponse, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(c.MissingSettings(), ", "))
	}
	payload, err := c.BuildSTKPushRequest(request)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	refreshed := false
	attempt := 0
	operation := func() (*STKPushResponse, error) {
		attempt++
		token, err := c.GetAuthToken(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := c.postSTKPush(ctx, token, body)
		if err == nil {
			return resp, nil
		}

		logger := c.log.WithError(err).WithField("attempt", attempt)
		switch {
		case errors.Is(err, errTokenRejected):
			if refreshed {
				return nil, backoff.Permanent(fmt.Errorf("%w: token rejected after refresh", ErrAuth))
			}
			refreshed = true
			c.InvalidateToken()
			logger.Info("gateway rejected token, refreshing")
			return nil, err
		case errors.Is(err, ErrTransient):
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			used := attempt
			if refreshed {
				used--
			}
			if used >= c.opts.MaxAttempts {
				return nil, backoff.Permanent(err)
			}
			logger.Warn("transient gateway failure")
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryInterval
	// MaxAttempts tries plus the one retry after a token refresh.
	retries := uint64(c.opts.MaxAttempts)

	resp, err := backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) postSTKPush(ctx context.Context, token string, body []byte) (*STKPushResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errTokenRejected
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: %s", ErrTransient, resp.Status)
	case resp.StatusCode != http.StatusOK:
		var gatewayErr ErrorResponse
		if json.Unmarshal(respBody, &gatewayErr) == nil && gatewayErr.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, gatewayErr.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: %s, body: %s", ErrGatewayRejected, resp.Status, string(respBody))
	}

	var pushResponse STKPushResponse
	if err := json.Unmarshal(respBody, &pushResponse); err != nil {
		return nil, fmt.Errorf("%w: undecodable response: %v", ErrGatewayRejected, err)
	}
	return &pushResponse, nil
}
