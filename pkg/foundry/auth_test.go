package foundry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokenCredential struct {
	calls  int
	token  string
	expiry time.Time
	err    error
}

func (f *fakeTokenCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: f.token, ExpiresOn: f.expiry}, nil
}

func TestEntraCredentialCachesToken(t *testing.T) {
	fake := &fakeTokenCredential{token: "tok-1", expiry: time.Now().Add(time.Hour)}
	cred := NewEntraCredentialFrom(fake, "")

	req1, _ := http.NewRequest(http.MethodGet, "https://example.test", nil)
	require.NoError(t, cred.Apply(context.Background(), req1))
	assert.Equal(t, "Bearer tok-1", req1.Header.Get("Authorization"))

	req2, _ := http.NewRequest(http.MethodGet, "https://example.test", nil)
	require.NoError(t, cred.Apply(context.Background(), req2))
	assert.Equal(t, "Bearer tok-1", req2.Header.Get("Authorization"))

	assert.Equal(t, 1, fake.calls)
}

func TestEntraCredentialRefreshesNearExpiry(t *testing.T) {
	// Inside the refresh margin, so every Apply fetches anew.
	fake := &fakeTokenCredential{token: "tok-1", expiry: time.Now().Add(30 * time.Second)}
	cred := NewEntraCredentialFrom(fake, "")

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodGet, "https://example.test", nil)
		require.NoError(t, cred.Apply(context.Background(), req))
	}

	assert.Equal(t, 2, fake.calls)
}

func TestEntraCredentialDefaultScope(t *testing.T) {
	cred := NewEntraCredentialFrom(&fakeTokenCredential{token: "t", expiry: time.Now().Add(time.Hour)}, "")
	assert.Equal(t, DefaultTokenScope, cred.scope)

	custom := NewEntraCredentialFrom(&fakeTokenCredential{}, "https://cognitiveservices.azure.com/.default")
	assert.Equal(t, "https://cognitiveservices.azure.com/.default", custom.scope)
}

func TestEntraCredentialPropagatesError(t *testing.T) {
	fake := &fakeTokenCredential{err: assert.AnError}
	cred := NewEntraCredentialFrom(fake, "")

	req, _ := http.NewRequest(http.MethodGet, "https://example.test", nil)
	err := cred.Apply(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get entra token")
}
