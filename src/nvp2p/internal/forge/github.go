// Package forge talks to the upstream source host (GitHub) for branch
// discovery and source archive retrieval.
package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/unraid-forge/nvp2p/src/common/errors"
	"github.com/unraid-forge/nvp2p/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the forge package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

const (
	userAgent = "nvp2p/1.0"
	perPage   = 100
)

// Repo identifies a repository on the source host
type Repo struct {
	Owner string
	Name  string
}

// String returns the "owner/name" form
func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// Client is a minimal GitHub API client scoped to what the pipeline needs:
// branch listing, ref existence probes, and archive downloads.
type Client struct {
	apiBaseURL  string
	hostBaseURL string
	httpClient  *http.Client
	// download client has no timeout since source archives can be large
	downloadClient *http.Client
}

// NewClient creates a client against the public GitHub endpoints.
func NewClient() *Client {
	return NewClientWithBase("https://api.github.com", "https://github.com")
}

// NewClientWithBase creates a client against custom endpoints. Used by tests
// and self-hosted mirrors.
func NewClientWithBase(apiBaseURL, hostBaseURL string) *Client {
	return &Client{
		apiBaseURL:  apiBaseURL,
		hostBaseURL: hostBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		downloadClient: &http.Client{},
	}
}

// ListBranches fetches all branch names of a repository, paginated up to the
// maximum page size. Unreachable endpoints, rate limits, and empty listings
// are fatal conditions for this tool and are reported as structured errors.
func (c *Client) ListBranches(ctx context.Context, repo Repo) ([]string, error) {
	var names []string
	page := 1

	for {
		url := fmt.Sprintf("%s/repos/%s/%s/branches?page=%d&per_page=%d",
			c.apiBaseURL, repo.Owner, repo.Name, page, perPage)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.ErrForgeUnreachable.WithCause(err)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, errors.ErrForgeUnreachable.WithCause(err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, errors.ErrForgeUnreachable.WithCause(err)
		}

		if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errors.ErrForgeRateLimited.WithMessagef(
				"branch listing for %s was rate limited, try again later", repo)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errors.ErrForgeUnreachable.WithMessagef(
				"branch listing for %s returned status %d", repo, resp.StatusCode)
		}

		var branches []struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(body, &branches); err != nil {
			return nil, errors.ErrForgeUnreachable.WithCause(err)
		}

		for _, b := range branches {
			names = append(names, b.Name)
		}

		if len(branches) < perPage {
			break
		}
		page++
	}

	if len(names) == 0 {
		return nil, errors.ErrForgeEmpty.WithMessagef(
			"repository %s has no branches", repo)
	}

	log.Debug("Listed branches", "repo", repo.String(), "count", len(names))
	return names, nil
}

// BranchArchiveURL returns the tarball URL for a branch head.
func (c *Client) BranchArchiveURL(repo Repo, branch string) string {
	return fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.tar.gz",
		c.hostBaseURL, repo.Owner, repo.Name, branch)
}

// TagArchiveURL returns the tarball URL for a tag.
func (c *Client) TagArchiveURL(repo Repo, tag string) string {
	return fmt.Sprintf("%s/%s/%s/archive/refs/tags/%s.tar.gz",
		c.hostBaseURL, repo.Owner, repo.Name, tag)
}

// RefExists probes an archive URL with a HEAD request. A missing ref is not
// an error; only transport failures are.
func (c *Client) RefExists(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, errors.ErrForgeUnreachable.WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.ErrForgeUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.ErrForgeUnreachable.WithMessagef(
			"existence probe for %s returned status %d", url, resp.StatusCode)
	}
}

// DownloadArchive streams an archive URL into dest. Progress is reported at
// debug level; the download itself has no timeout.
func (c *Client) DownloadArchive(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.ErrForgeUnreachable.WithCause(err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return errors.ErrForgeUnreachable.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.ErrForgeUnreachable.WithMessagef(
			"archive download %s returned status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	totalBytes := resp.ContentLength
	var received int64
	buf := make([]byte, 32*1024)
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write %s: %w", dest, writeErr)
			}
			received += int64(n)

			if time.Since(lastReport) >= 2*time.Second {
				log.Debug("Downloading", "url", url, "received", received, "total", totalBytes)
				lastReport = time.Now()
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return errors.ErrForgeUnreachable.WithCause(readErr)
		}
	}

	log.Debug("Download complete", "url", url, "bytes", received)
	return out.Close()
}
