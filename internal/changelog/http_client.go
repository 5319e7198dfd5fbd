package changelog

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
	"github.com/sethvargo/go-retry"

	"github.com/vaultsync/vaultsync/internal/metadata"
	"github.com/vaultsync/vaultsync/internal/utils"
	"github.com/vaultsync/vaultsync/internal/version"
)

// DeriveWebSocketURL converts baseURL's scheme to ws/wss and appends the
// changed-notification path, grounded on the teacher's
// internal/syftsdk/events.go toWebsocketURL.
func DeriveWebSocketURL(baseURL string) string {
	var wsURL string
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		wsURL = "wss://" + baseURL[len("https://"):]
	case strings.HasPrefix(baseURL, "http://"):
		wsURL = "ws://" + baseURL[len("http://"):]
	default:
		return ""
	}
	return strings.TrimSuffix(wsURL, "/") + "/v1/changes/ws"
}

const (
	headerInstanceID = "X-Vaultsync-Instance-Id"
	headerRequestID  = "X-Vaultsync-Request-Id"

	retryBase   = 500 * time.Millisecond
	retryFactor = 1.5
	retryMax    = 6
)

// HTTPClient implements Client over JSON/HTTPS with bearer-token auth, per
// spec §6's "Wire protocol (summary)".
type HTTPClient struct {
	client *req.Client
	wsURL  string
	token  string
}

// NewHTTPClient builds a client against baseURL, grounded on the teacher's
// req.C() construction in syftsdk.New (TLS1.3 minimum, shared headers).
// Retries are not configured on the client; do applies them per call.
func NewHTTPClient(baseURL, wsURL, token string) *HTTPClient {
	client := req.C().
		SetBaseURL(baseURL).
		SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS13}).
		SetUserAgent("vaultsyncd/"+version.Version).
		SetCommonHeader(headerInstanceID, utils.HWID).
		SetCommonBearerAuthToken(token)

	return &HTTPClient{client: client, wsURL: wsURL, token: token}
}

// backoff builds the exponential schedule mandated by spec §4.4: base
// 500ms, factor 1.5, capped at 6 attempts.
func backoff() retry.Backoff {
	attempt := 0
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(float64(retryBase) * math.Pow(retryFactor, float64(attempt)))
		attempt++
		return d, false
	})
	// WithMaxRetries counts retries after the first call, so retryMax-1
	// retries make retryMax attempts in total.
	return retry.WithMaxRetries(retryMax-1, b)
}

// do executes a request with the retry policy, classifying 5xx and
// transport errors as retryable and 4xx (except 429) as permanent,
// matching spec §4.4.
func do(ctx context.Context, fn func(ctx context.Context) (*req.Response, error)) (*req.Response, error) {
	var resp *req.Response
	err := retry.Do(ctx, backoff(), func(ctx context.Context) error {
		r, err := fn(ctx)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrTransport, err))
		}
		resp = r

		switch {
		case r.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("%w: rate limited", ErrTransport))
		case r.StatusCode == http.StatusUnauthorized || r.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrAuth, r.StatusCode)
		case r.StatusCode == http.StatusConflict:
			return fmt.Errorf("%w: status %d", ErrStaleParent, r.StatusCode)
		case r.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("%w: status %d", ErrTransport, r.StatusCode))
		case r.StatusCode >= 400:
			return fmt.Errorf("changelog: permanent error, status %d", r.StatusCode)
		default:
			return nil
		}
	})
	return resp, err
}

type pingWire struct {
	ServerVersion   string `json:"serverVersion"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

func (c *HTTPClient) Ping(ctx context.Context) (PingResult, error) {
	var wire pingWire
	resp, err := do(ctx, func(ctx context.Context) (*req.Response, error) {
		return c.client.R().SetContext(ctx).SetSuccessResult(&wire).Get("/v1/ping")
	})
	if err != nil {
		return PingResult{}, err
	}
	_ = resp
	return PingResult{ServerVersion: wire.ServerVersion, IsAuthenticated: wire.IsAuthenticated}, nil
}

type remoteDocWire struct {
	DocumentId    string                 `json:"documentId"`
	RelativePath  string                 `json:"relativePath"`
	VaultUpdateId metadata.VaultUpdateId `json:"vaultUpdateId"`
	IsDeleted     bool                   `json:"isDeleted"`
}

type changesSinceWire struct {
	LatestDocuments []remoteDocWire        `json:"latestDocuments"`
	LastUpdateId    metadata.VaultUpdateId `json:"lastUpdateId"`
}

func (c *HTTPClient) GetChangesSince(ctx context.Context, cursor *metadata.VaultUpdateId) (ChangesSinceResult, error) {
	var wire changesSinceWire
	_, err := do(ctx, func(ctx context.Context) (*req.Response, error) {
		r := c.client.R().SetContext(ctx).
			SetHeader(headerRequestID, uuid.NewString()).
			SetSuccessResult(&wire)
		if cursor != nil {
			r = r.SetQueryParam("cursor", fmt.Sprintf("%d", *cursor))
		}
		return r.Get("/v1/changes")
	})
	if err != nil {
		return ChangesSinceResult{}, err
	}

	docs := make([]RemoteDocVersion, 0, len(wire.LatestDocuments))
	for _, d := range wire.LatestDocuments {
		docs = append(docs, RemoteDocVersion{
			DocumentId:    d.DocumentId,
			RelativePath:  d.RelativePath,
			VaultUpdateId: d.VaultUpdateId,
			IsDeleted:     d.IsDeleted,
		})
	}
	return ChangesSinceResult{LatestDocuments: docs, LastUpdateId: wire.LastUpdateId}, nil
}

func (c *HTTPClient) GetContent(ctx context.Context, documentId string) ([]byte, error) {
	resp, err := do(ctx, func(ctx context.Context) (*req.Response, error) {
		return c.client.R().SetContext(ctx).Get("/v1/documents/" + documentId + "/content")
	})
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

type putRequestWire struct {
	ParentVersionId *metadata.VaultUpdateId `json:"parentVersionId,omitempty"`
	RelativePath    string                  `json:"relativePath"`
	ContentBytes    []byte                  `json:"contentBytes"`
	CreatedDate     time.Time               `json:"createdDate"`
}

type putResponseWire struct {
	DocumentId   string                 `json:"documentId"`
	VersionId    metadata.VaultUpdateId `json:"versionId"`
	RelativePath string                 `json:"relativePath"`
	ContentBytes []byte                 `json:"contentBytes"`
}

func (c *HTTPClient) Put(ctx context.Context, parentVersionId *metadata.VaultUpdateId, relativePath string, content []byte, createdDate time.Time) (PutResult, error) {
	body := putRequestWire{
		ParentVersionId: parentVersionId,
		RelativePath:    relativePath,
		ContentBytes:    content,
		CreatedDate:     createdDate,
	}

	var wire putResponseWire
	resp, err := do(ctx, func(ctx context.Context) (*req.Response, error) {
		return c.client.R().SetContext(ctx).SetBody(&body).SetSuccessResult(&wire).Put("/v1/documents")
	})
	if err != nil {
		return PutResult{}, err
	}
	_ = resp

	return PutResult{
		DocumentId:   wire.DocumentId,
		VersionId:    wire.VersionId,
		RelativePath: wire.RelativePath,
		ContentBytes: wire.ContentBytes,
	}, nil
}

func (c *HTTPClient) Delete(ctx context.Context, documentId string, createdDate time.Time) error {
	_, err := do(ctx, func(ctx context.Context) (*req.Response, error) {
		return c.client.R().SetContext(ctx).
			SetQueryParam("createdDate", createdDate.Format(time.RFC3339)).
			Delete("/v1/documents/" + documentId)
	})
	return err
}

type changedNotification struct{}

// Subscribe opens the optional WebSocket "changed" channel. Any connection
// failure is non-fatal: the caller falls back to the periodic pull loop.
func (c *HTTPClient) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	if c.wsURL == "" {
		return nil, nil
	}

	conn, _, err := websocket.Dial(ctx, c.wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + c.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: websocket dial: %v", ErrTransport, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			var note changedNotification
			if err := wsjson.Read(ctx, conn, &note); err != nil {
				return
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()

	return ch, nil
}
