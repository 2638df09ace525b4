package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/api/dfareporting/v4"
	"google.golang.org/api/doubleclicksearch/v2"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

var (
	CM360Scopes = []string{dfareporting.DdmconversionsScope, dfareporting.DfareportingScope}
	SA360Scopes = []string{doubleclicksearch.DoubleclicksearchScope}
)

// GoogleAuth holds the credential settings shared by every Google client.
type GoogleAuth struct {
	// Credentials is a service account key file path or its JSON contents.
	Credentials string
	// Impersonate is the service account to act as, if any.
	Impersonate string
}

// ClientOptions returns client options for the given scopes.
func (a GoogleAuth) ClientOptions(ctx context.Context, scopes ...string) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	if a.Credentials != "" {
		contents, err := pathOrContents(a.Credentials)
		if err != nil {
			return nil, fmt.Errorf("error reading credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON([]byte(contents)))
	}

	if a.Impersonate != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: a.Impersonate,
			Scopes:          scopes,
			Lifetime:        500 * time.Second,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("impersonate %s: %w", a.Impersonate, err)
		}
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	}

	if len(scopes) > 0 {
		opts = append(opts, option.WithScopes(scopes...))
	}
	return opts, nil
}

// HTTPClient returns an authorized HTTP client for a platform API.
func (a GoogleAuth) HTTPClient(ctx context.Context, scopes ...string) (*http.Client, error) {
	opts, err := a.ClientOptions(ctx, scopes...)
	if err != nil {
		return nil, err
	}
	client, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorized client: %w", err)
	}
	return client, nil
}

func pathOrContents(in string) (string, error) {
	if strings.HasPrefix(strings.TrimSpace(in), "{") {
		return in, nil
	}
	contents, err := os.ReadFile(in)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}
