// Package repocontext fetches a GitHub repository's layout and key files and
// renders them as a system prompt section.
package repocontext

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentfloor/agentfloor/internal/apierr"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Limits applied when building a context.
const (
	DefaultCacheTTL = 5 * time.Minute
	MaxFileSize     = 50_000
	MaxTreeDepth    = 3
	MaxTreeEntries  = 200
)

// KeyFiles are fetched, when present, in this order.
var KeyFiles = []string{
	"CLAUDE.md",
	".claude/CLAUDE.md",
	"README.md",
	"package.json",
	"tsconfig.json",
	"pyproject.toml",
	"Cargo.toml",
	"go.mod",
}

var (
	sshRepo   = regexp.MustCompile(`^git@[^:]*github[^:]*:([^/]+)/([^/.]+)`)
	httpsRepo = regexp.MustCompile(`github\.com/([^/]+)/([^/.]+)`)
)

// ParseRepoURL extracts owner and repo from an SSH or HTTPS GitHub URL.
func ParseRepoURL(raw string) (owner, repo string, ok bool) {
	if m := sshRepo.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	if m := httpsRepo.FindStringSubmatch(raw); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}

// File is a fetched key file.
type File struct {
	Path    string
	Content string
}

// RepoContext is the fetched view of one repository.
type RepoContext struct {
	Owner    string
	Repo     string
	Tree     string
	KeyFiles []File
}

// Prompt renders the context as a markdown section.
func (rc *RepoContext) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Repository: %s/%s\n\n", rc.Owner, rc.Repo)
	fmt.Fprintf(&b, "### Directory Structure\n```\n%s\n```\n\n", rc.Tree)
	for _, f := range rc.KeyFiles {
		ext := f.Path[strings.LastIndex(f.Path, ".")+1:]
		fmt.Fprintf(&b, "### %s\n```%s\n%s\n```\n\n", f.Path, ext, f.Content)
	}
	return b.String()
}

type cacheEntry struct {
	rc      *RepoContext
	fetched time.Time
}

// Fetcher loads repository contexts through the GitHub API and caches them
// per owner/repo.
type Fetcher struct {
	client *github.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// FetcherOpts holds parameters for creating a Fetcher.
type FetcherOpts struct {
	Token      string        // optional; anonymous access when empty
	CacheTTL   time.Duration // defaults to DefaultCacheTTL
	BaseURL    string        // optional API base, for GitHub Enterprise
	HTTPClient *http.Client  // optional
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOpts) (*Fetcher, error) {
	httpClient := opts.HTTPClient
	if opts.Token != "" {
		ctx := context.Background()
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	client := github.NewClient(httpClient)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("repocontext: base url %q: %w", opts.BaseURL, err)
		}
		client.BaseURL = u
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Fetcher{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Fetch returns the context for repoURL. It returns nil, nil when the URL is
// not a GitHub repository.
func (f *Fetcher) Fetch(ctx context.Context, repoURL string) (*RepoContext, error) {
	owner, repo, ok := ParseRepoURL(repoURL)
	if !ok {
		return nil, nil
	}
	key := owner + "/" + repo

	f.mu.Lock()
	if e, ok := f.cache[key]; ok && f.now().Sub(e.fetched) < f.ttl {
		f.mu.Unlock()
		return e.rc, nil
	}
	f.mu.Unlock()

	tree, _, err := f.client.Git.GetTree(ctx, owner, repo, "HEAD", true)
	if err != nil {
		return nil, &apierr.UpstreamError{Msg: "repocontext: tree " + key, Err: err}
	}
	rc := &RepoContext{
		Owner:    owner,
		Repo:     repo,
		Tree:     renderTree(tree.Entries),
		KeyFiles: f.fetchKeyFiles(ctx, owner, repo, tree.Entries),
	}

	f.mu.Lock()
	f.cache[key] = cacheEntry{rc: rc, fetched: f.now()}
	f.mu.Unlock()
	return rc, nil
}

// fetchKeyFiles downloads the key files present in the tree concurrently.
// Files that fail to download are skipped.
func (f *Fetcher) fetchKeyFiles(ctx context.Context, owner, repo string, entries []*github.TreeEntry) []File {
	present := make(map[string]bool)
	for _, e := range entries {
		if e.GetType() == "blob" && e.GetSize() <= MaxFileSize {
			present[e.GetPath()] = true
		}
	}
	var wanted []string
	for _, p := range KeyFiles {
		if present[p] {
			wanted = append(wanted, p)
		}
	}

	results := make([]*File, len(wanted))
	var wg sync.WaitGroup
	for i, p := range wanted {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			fc, _, _, err := f.client.Repositories.GetContents(ctx, owner, repo, p, nil)
			if err != nil || fc == nil {
				return
			}
			content, err := fc.GetContent()
			if err != nil || content == "" {
				return
			}
			results[i] = &File{Path: p, Content: content}
		}(i, p)
	}
	wg.Wait()

	files := make([]File, 0, len(results))
	for _, r := range results {
		if r != nil {
			files = append(files, *r)
		}
	}
	return files
}

// renderTree lays out entries as an indented listing, directories suffixed
// with "/", skipping anything deeper than MaxTreeDepth.
func renderTree(entries []*github.TreeEntry) string {
	var lines []string
	for _, e := range entries {
		p := e.GetPath()
		depth := strings.Count(p, "/")
		if depth > MaxTreeDepth {
			continue
		}
		if len(lines) >= MaxTreeEntries {
			lines = append(lines, "... (truncated)")
			break
		}
		suffix := ""
		if e.GetType() == "tree" {
			suffix = "/"
		}
		lines = append(lines, strings.Repeat("  ", depth)+path.Base(p)+suffix)
	}
	return strings.Join(lines, "\n")
}
