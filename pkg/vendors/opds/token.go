package opds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opencirc/circ/pkg/circulation"
	"github.com/opencirc/circ/pkg/models"
	"github.com/opencirc/circ/pkg/store"
)

// credentialType scopes persisted bearer tokens in the credential store.
const credentialType = "OPDS For Distributors Bearer Token"

// tokenExpiryMargin refreshes tokens slightly early so a token does not
// lapse between minting a fulfillment document and the client using it.
const tokenExpiryMargin = time.Minute

// bearerToken is a minted distributor token with its expiry.
type bearerToken struct {
	Value   string
	Expires time.Time
}

func (t *bearerToken) usable(now time.Time) bool {
	return t != nil && t.Value != "" && now.Add(tokenExpiryMargin).Before(t.Expires)
}

// tokenSource mints and caches bearer tokens for one collection. Tokens
// survive restarts through the credential store; the in-memory copy only
// saves a database read on the hot path.
type tokenSource struct {
	st       store.Store
	client   *http.Client
	settings Settings

	collectionID uint
	dataSource   string

	mu     sync.Mutex
	cached *bearerToken
}

func newTokenSource(st store.Store, client *http.Client, settings Settings, collection *models.Collection) *tokenSource {
	return &tokenSource{
		st:           st,
		client:       client,
		settings:     settings,
		collectionID: collection.ID,
		dataSource:   collection.DataSource,
	}
}

// Token returns a usable bearer token, minting a fresh one when the
// cached and persisted copies have lapsed.
func (ts *tokenSource) Token(ctx context.Context) (*bearerToken, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	if ts.cached.usable(now) {
		return ts.cached, nil
	}

	if stored := ts.loadStored(ctx, now); stored != nil {
		ts.cached = stored
		return stored, nil
	}

	minted, err := ts.mint(ctx)
	if err != nil {
		return nil, err
	}
	ts.cached = minted

	if err := ts.st.UpsertCredential(ctx, &models.Credential{
		DataSource:   ts.dataSource,
		Type:         credentialType,
		CollectionID: &ts.collectionID,
		Credential:   minted.Value,
		Expires:      &minted.Expires,
	}); err != nil {
		// The token works even if persisting it failed; the next process
		// just mints again.
		return minted, nil
	}
	return minted, nil
}

func (ts *tokenSource) loadStored(ctx context.Context, now time.Time) *bearerToken {
	cred, err := ts.st.GetCredential(ctx, ts.dataSource, credentialType, &ts.collectionID, nil)
	if err != nil {
		return nil
	}
	if cred.Expired(now) || cred.Expires == nil {
		return nil
	}
	token := &bearerToken{Value: cred.Credential, Expires: *cred.Expires}
	if !token.usable(now) {
		return nil
	}
	return token
}

// tokenResponse is the OAuth client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// mint performs the client-credentials handshake against the
// distributor's token endpoint.
func (ts *tokenSource) mint(ctx context.Context) (*bearerToken, error) {
	body := strings.NewReader("grant_type=client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.settings.TokenURL, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(ts.settings.Username, ts.settings.Password)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return nil, &circulation.RemoteInitiatedServerError{Protocol: ProtocolName, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &circulation.RemoteInitiatedServerError{Protocol: ProtocolName, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &circulation.RemoteInitiatedServerError{
			Protocol: ProtocolName,
			Err:      fmt.Errorf("token endpoint returned %d", resp.StatusCode),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return nil, &circulation.RemoteInitiatedServerError{Protocol: ProtocolName, Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &circulation.RemoteInitiatedServerError{
			Protocol: ProtocolName,
			Err:      errors.New("token endpoint returned no access token"),
		}
	}

	return &bearerToken{
		Value:   tr.AccessToken,
		Expires: tokenExpiry(tr),
	}, nil
}

// tokenExpiry derives the token's expiry, preferring the exp claim when
// the token is a JWT over the endpoint's advertised lifetime. Distributor
// endpoints have been seen advertising lifetimes longer than their
// tokens actually live.
func tokenExpiry(tr tokenResponse) time.Time {
	if exp, ok := jwtExpiry(tr.AccessToken); ok {
		return exp
	}
	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return time.Now().Add(lifetime)
}

func jwtExpiry(raw string) (time.Time, bool) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
