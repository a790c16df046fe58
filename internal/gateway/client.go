package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client is the remote communication gateway contract the sync layer is
// written against. Implementations must honour context cancellation on
// every call; a hung gateway must never outlive its caller's deadline.
type Client interface {
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	GetConversation(ctx context.Context, key contactkey.Key) (*RemoteConversation, error)
	SendMessage(ctx context.Context, key contactkey.Key, body string) (*SendReceipt, error)
	MarkRead(ctx context.Context, key contactkey.Key) error
	DeleteConversation(ctx context.Context, key contactkey.Key) error
	SaveContact(ctx context.Context, key contactkey.Key, details ContactDetails) (string, error)
}

// Options configures the REST client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// RESTClient talks to the communication gateway's HTTP API.
type RESTClient struct {
	http     *resty.Client
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	contacts *gocache.Cache
	logger   *zap.Logger
}

const contactCacheTTL = 5 * time.Minute

// NewRESTClient builds a gateway client with a per-call timeout, a
// circuit breaker tripping on sustained failures, and a request rate cap.
func NewRESTClient(opts Options, logger *zap.Logger) (*RESTClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL cannot be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RPS <= 0 {
		opts.RPS = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		httpClient.SetAuthToken(opts.Token)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 8 },
	})

	return &RESTClient{
		http:     httpClient,
		breaker:  cb,
		limiter:  rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		contacts: gocache.New(contactCacheTTL, 10*time.Minute),
		logger:   logger,
	}, nil
}

func (c *RESTClient) ListConversations(ctx context.Context) ([]ConversationSummary, error) {
	body, err := c.do(ctx, "list_conversations", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/v1/conversations")
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &MalformedResponseError{Op: "list_conversations", Detail: err.Error()}
	}
	return out.Conversations, nil
}

func (c *RESTClient) GetConversation(ctx context.Context, key contactkey.Key) (*RemoteConversation, error) {
	body, err := c.do(ctx, "get_conversation", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/v1/conversations/" + url.PathEscape(key.String()))
	})
	if err != nil {
		return nil, err
	}

	var conv RemoteConversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, &MalformedResponseError{Op: "get_conversation", Detail: err.Error()}
	}
	if conv.Key == "" {
		// Responses without a key can't be attributed to a thread.
		return nil, &MalformedResponseError{Op: "get_conversation", Detail: "missing contact_key"}
	}
	return &conv, nil
}

func (c *RESTClient) SendMessage(ctx context.Context, key contactkey.Key, text string) (*SendReceipt, error) {
	payload := map[string]string{"body": text}
	body, err := c.do(ctx, "send_message", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).Post("/v1/conversations/" + url.PathEscape(key.String()) + "/messages")
	})
	if err != nil {
		return nil, err
	}

	var receipt SendReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, &MalformedResponseError{Op: "send_message", Detail: err.Error()}
	}
	if receipt.ID == "" {
		return nil, &MalformedResponseError{Op: "send_message", Detail: "missing message id"}
	}
	return &receipt, nil
}

func (c *RESTClient) MarkRead(ctx context.Context, key contactkey.Key) error {
	_, err := c.do(ctx, "mark_read", func(r *resty.Request) (*resty.Response, error) {
		return r.Post("/v1/conversations/" + url.PathEscape(key.String()) + "/read")
	})
	return err
}

func (c *RESTClient) DeleteConversation(ctx context.Context, key contactkey.Key) error {
	_, err := c.do(ctx, "delete_conversation", func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/v1/conversations/" + url.PathEscape(key.String()))
	})
	return err
}

func (c *RESTClient) SaveContact(ctx context.Context, key contactkey.Key, details ContactDetails) (string, error) {
	// Saving the same endpoint twice within the TTL returns the known
	// contact id without another gateway round trip.
	if cached, ok := c.contacts.Get(key.String()); ok {
		return cached.(string), nil
	}

	payload := struct {
		Key contactkey.Key `json:"contact_key"`
		ContactDetails
	}{Key: key, ContactDetails: details}

	body, err := c.do(ctx, "save_contact", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(payload).Post("/v1/contacts")
	})
	if err != nil {
		return "", err
	}

	var out struct {
		ContactID string `json:"contact_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &MalformedResponseError{Op: "save_contact", Detail: err.Error()}
	}
	if out.ContactID == "" {
		return "", &MalformedResponseError{Op: "save_contact", Detail: "missing contact_id"}
	}
	c.contacts.Set(key.String(), out.ContactID, gocache.DefaultExpiration)
	return out.ContactID, nil
}

// do runs one gateway call through the rate limiter and circuit breaker
// and classifies the outcome into the gateway error taxonomy.
func (c *RESTClient) do(ctx context.Context, op string, call func(*resty.Request) (*resty.Response, error)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}

	res, err := c.breaker.Execute(func() (any, error) {
		resp, err := call(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, &TransientError{Op: op, Err: err}
		}
		if resp.IsError() {
			if transientStatus(resp.StatusCode()) {
				return nil, &TransientError{Op: op, Err: fmt.Errorf("status %s: %s", resp.Status(), resp.String())}
			}
			return nil, fmt.Errorf("gateway %s: status %s: %s", op, resp.Status(), resp.String())
		}
		return resp.Body(), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			c.logger.Warn("gateway circuit open", zap.String("op", op))
			return nil, &TransientError{Op: op, Err: err}
		}
		return nil, err
	}
	return res.([]byte), nil
}
