package keyset

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jwtkit "github.com/PaulFidika/appleauth/jwt"
)

// AppleKeysURL is where Apple publishes its identity token signing keys.
const AppleKeysURL = "https://appleid.apple.com/auth/keys"

// maxDocumentBytes bounds how much of a key-set response is read.
const maxDocumentBytes = 1 << 20

// Fetcher retrieves a key-set document.
type Fetcher interface {
	Fetch(ctx context.Context) (*jwtkit.Document, error)
}

// HTTPFetcher GETs a key-set document from URL.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher for url with a 10 second client timeout.
// An empty url selects AppleKeysURL.
func NewHTTPFetcher(url string) *HTTPFetcher {
	if url == "" {
		url = AppleKeysURL
	}
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (*jwtkit.Document, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("keyset: fetch %s: %s", f.URL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, err
	}
	doc, err := jwtkit.ParseDocument(body)
	if err != nil {
		// The publisher is at fault here, not the token.
		return nil, fmt.Errorf("keyset: decode %s: %w", f.URL, err)
	}
	return doc, nil
}

// Static serves a document that was obtained elsewhere. It never fetches.
type Static struct {
	Doc *jwtkit.Document
}

func (s Static) Fetch(context.Context) (*jwtkit.Document, error) { return s.Doc, nil }

// KeySet lets Static stand in wherever a Source is expected.
func (s Static) KeySet(context.Context) (*jwtkit.Document, error) { return s.Doc, nil }
