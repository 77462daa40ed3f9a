package foundry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/rs/zerolog/log"
)

// DefaultTokenScope is the Entra scope for Azure AI Foundry projects.
const DefaultTokenScope = "https://ai.azure.com/.default"

// Tokens are refreshed once they are within this margin of expiry.
const tokenRefreshMargin = 2 * time.Minute

// Credential injects authentication onto outgoing Foundry requests.
type Credential interface {
	Apply(ctx context.Context, req *http.Request) error
}

// EntraCredential authenticates with a Microsoft Entra bearer token from
// the default Azure credential chain (environment, managed identity,
// Azure CLI). Tokens are cached until shortly before they expire.
type EntraCredential struct {
	cred  azcore.TokenCredential
	scope string

	mu    sync.Mutex
	token azcore.AccessToken
}

// NewEntraCredential builds the default credential chain for scope. An
// empty scope selects DefaultTokenScope.
func NewEntraCredential(scope string) (*EntraCredential, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	return NewEntraCredentialFrom(cred, scope), nil
}

// NewEntraCredentialFrom wraps an existing token credential. Tests and
// callers with their own chain use this directly.
func NewEntraCredentialFrom(cred azcore.TokenCredential, scope string) *EntraCredential {
	if scope == "" {
		scope = DefaultTokenScope
	}
	return &EntraCredential{cred: cred, scope: scope}
}

// Apply sets the Authorization header, fetching a fresh token if the
// cached one is missing or close to expiry.
func (c *EntraCredential) Apply(ctx context.Context, req *http.Request) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *EntraCredential) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Token != "" && time.Until(c.token.ExpiresOn) > tokenRefreshMargin {
		return c.token.Token, nil
	}

	token, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{c.scope},
	})
	if err != nil {
		return "", fmt.Errorf("get entra token: %w", err)
	}

	log.Debug().
		Str("scope", c.scope).
		Time("expires_on", token.ExpiresOn).
		Msg("Acquired entra token")

	c.token = token
	return token.Token, nil
}

// APIKeyCredential authenticates with a project API key via the api-key
// header. Entra is preferred; this exists for environments without a
// usable credential chain.
type APIKeyCredential string

// Apply sets the api-key header.
func (c APIKeyCredential) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("api-key", string(c))
	return nil
}
