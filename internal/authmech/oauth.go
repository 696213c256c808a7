package authmech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/oriys/fetchengine/internal/credentials"
	"github.com/oriys/fetchengine/internal/ferrors"
	"golang.org/x/sync/singleflight"
)

// defaultExpiresIn is used when the token endpoint omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// defaultSkew is subtracted from expiresAt so a token isn't used right up
// to the instant it expires.
const defaultSkew = 30 * time.Second

// OAuthClientCredentials implements the client-credentials grant. At most
// one acquisition is in flight per instance; concurrent callers coalesce on
// the singleflight group and all observe the same resulting token.
type OAuthClientCredentials struct {
	ConfigName   string
	TokenURL     string
	HTTPClient   *http.Client
	Skew         time.Duration
	ConsumerKey  string // credential key for consumer_key, default "consumer_key"
	ConsumerSecr string // credential key for consumer_secret, default "consumer_secret"

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewOAuthClientCredentials builds a mechanism acquiring tokens from
// tokenURL using credentials resolved under configName.
func NewOAuthClientCredentials(configName, tokenURL string) *OAuthClientCredentials {
	return &OAuthClientCredentials{
		ConfigName:   configName,
		TokenURL:     tokenURL,
		HTTPClient:   http.DefaultClient,
		Skew:         defaultSkew,
		ConsumerKey:  "consumer_key",
		ConsumerSecr: "consumer_secret",
	}
}

func (m *OAuthClientCredentials) AuthenticateRequest(ctx context.Context, headers map[string]string, provider credentials.Provider) (map[string]string, error) {
	token, err := m.token(ctx, provider)
	if err != nil {
		return nil, err
	}
	out := cloneHeaders(headers)
	out["Authorization"] = "Bearer " + token
	return out, nil
}

func (m *OAuthClientCredentials) token(ctx context.Context, provider credentials.Provider) (string, error) {
	m.mu.Lock()
	token, expiresAt := m.accessToken, m.expiresAt
	m.mu.Unlock()

	skew := m.Skew
	if skew == 0 {
		skew = defaultSkew
	}
	if token != "" && time.Now().Before(expiresAt.Add(-skew)) {
		return token, nil
	}

	v, err, _ := m.group.Do(m.ConfigName, func() (any, error) {
		return m.acquire(ctx, provider)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in"`
}

func (m *OAuthClientCredentials) acquire(ctx context.Context, provider credentials.Provider) (string, error) {
	key, err := provider.GetCredential(ctx, m.ConfigName, m.ConsumerKey)
	if err != nil {
		return "", err
	}
	secret, err := provider.GetCredential(ctx, m.ConfigName, m.ConsumerSecr)
	if err != nil {
		return "", err
	}

	body := strings.NewReader(url.Values{"grant_type": {"client_credentials"}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.TokenURL, body)
	if err != nil {
		return "", fmt.Errorf("authmech: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(key, secret)

	client := m.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", ferrors.New(ferrors.Network, "authmech.oauth", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ferrors.New(ferrors.Network, "authmech.oauth", fmt.Errorf("token endpoint returned status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", ferrors.New(ferrors.Storage, "authmech.oauth", ferrors.ErrSerialization)
	}
	if tr.AccessToken == "" {
		return "", ferrors.New(ferrors.Network, "authmech.oauth", fmt.Errorf("token endpoint returned no access_token"))
	}

	expiresIn := defaultExpiresIn
	if tr.ExpiresIn != nil {
		expiresIn = time.Duration(*tr.ExpiresIn) * time.Second
	}

	m.mu.Lock()
	m.accessToken = tr.AccessToken
	m.expiresAt = time.Now().Add(expiresIn)
	m.mu.Unlock()

	return tr.AccessToken, nil
}
