package config

import (
	"context"
	"fmt"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/sync/errgroup"
)

// secretFetchConcurrency bounds parallel AccessSecretVersion calls during a
// cold start.
const secretFetchConcurrency = 8

// secretManagerClient is the subset of the Secret Manager client used by
// SecretManagerProvider. It enables testing with a mock client.
type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
}

// SecretManagerProvider implements SecretProvider with Google Secret
// Manager. A reference is either a full version name
// ("projects/p/secrets/s/versions/3"), a secret name without a version
// ("projects/p/secrets/s", meaning latest) or a bare secret ID resolved in
// the configured project.
type SecretManagerProvider struct {
	project string

	mu     sync.Mutex
	client secretManagerClient
	closer func() error
}

// NewSecretManagerProvider creates a provider for project. The client is
// created on first use.
func NewSecretManagerProvider(project string) *SecretManagerProvider {
	return &SecretManagerProvider{project: project}
}

// newSecretManagerProviderWithClient injects a client for tests.
func newSecretManagerProviderWithClient(project string, client secretManagerClient) *SecretManagerProvider {
	return &SecretManagerProvider{project: project, client: client}
}

func (p *SecretManagerProvider) ensureClient(ctx context.Context) (secretManagerClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	c, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Secret Manager client: %w", err)
	}
	p.client = c
	p.closer = c.Close
	return p.client, nil
}

// GetSecretsBatch implements SecretProvider. References are fetched in
// parallel; the first failure cancels the rest.
func (p *SecretManagerProvider) GetSecretsBatch(ctx context.Context, refs []string) (map[string]string, error) {
	if len(refs) == 0 {
		return make(map[string]string), nil
	}

	names := make([]string, len(refs))
	for i, ref := range refs {
		name, err := p.versionName(ref)
		if err != nil {
			return nil, err
		}
		names[i] = name
	}

	client, err := p.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	result := make(map[string]string, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(secretFetchConcurrency)
	for i, ref := range refs {
		name := names[i]
		g.Go(func() error {
			resp, err := client.AccessSecretVersion(gctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
			if err != nil {
				return fmt.Errorf("accessing secret %s: %w", name, err)
			}
			mu.Lock()
			result[ref] = string(resp.GetPayload().GetData())
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close releases the client if the provider created it.
func (p *SecretManagerProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closer == nil {
		return nil
	}
	err := p.closer()
	p.client, p.closer = nil, nil
	return err
}

func (p *SecretManagerProvider) versionName(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "projects/") && strings.Contains(ref, "/versions/"):
		return ref, nil
	case strings.HasPrefix(ref, "projects/") && strings.Contains(ref, "/secrets/"):
		return strings.TrimSuffix(ref, "/") + "/versions/latest", nil
	case ref == "" || strings.Contains(ref, "/"):
		return "", fmt.Errorf("invalid secret reference %q", ref)
	case p.project == "":
		return "", fmt.Errorf("secret reference %q needs GOOGLE_CLOUD_PROJECT", ref)
	default:
		return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.project, ref), nil
	}
}
