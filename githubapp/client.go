/*
Copyright 2025 FormalMind, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubapp builds per-installation GitHub clients and git token
// sources from GitHub App credentials.
package githubapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"
)

// ClientFactory mints installation-scoped clients for a single GitHub App.
type ClientFactory struct {
	appID      int64
	privateKey []byte
}

// NewClientFactory constructs a factory from App credentials. The private
// key accepts literal "\n" escapes, as commonly produced by PEM-in-env
// configuration.
func NewClientFactory(appID int64, privateKey string) (*ClientFactory, error) {
	if appID == 0 {
		return nil, errors.New("app ID cannot be zero")
	}
	if privateKey == "" {
		return nil, errors.New("private key cannot be empty")
	}

	return &ClientFactory{
		appID:      appID,
		privateKey: []byte(strings.ReplaceAll(privateKey, `\n`, "\n")),
	}, nil
}

// InstallationClient returns a GitHub client authenticated as the given
// installation, plus a token source usable for git-over-HTTPS pushes to
// repositories the installation can reach.
func (f *ClientFactory) InstallationClient(ctx context.Context, installationID int64) (*github.Client, oauth2.TokenSource, error) {
	transport, err := ghinstallation.New(http.DefaultTransport, f.appID, installationID, f.privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating installation transport: %w", err)
	}

	client := github.NewClient(&http.Client{Transport: transport})
	return client, &installationTokenSource{ctx: ctx, transport: transport}, nil
}

// installationTokenSource adapts a ghinstallation transport to
// oauth2.TokenSource for the git layer.
type installationTokenSource struct {
	ctx       context.Context
	transport *ghinstallation.Transport
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.transport.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("minting installation token: %w", err)
	}
	return &oauth2.Token{AccessToken: token}, nil
}
