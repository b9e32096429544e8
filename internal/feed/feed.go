package feed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"portfolio-backend/internal/domain"
)

const (
	// PageSize bounds the single listing request.
	PageSize = 15

	fallbackTag              = "GitHub"
	fetchedDescription       = "Open Source Contribution"
	fallbackValueProposition = "A useful utility or application component."
	idPrefix                 = "gh-"
)

// DefaultDenylist hides practice and scratch repositories from the gallery.
var DefaultDenylist = []string{
	"test",
	"hello-world",
	"learning-repo",
	"temp",
	"notes",
	"practice",
}

// RepoLister lists the most recently updated repositories owned by owner.
type RepoLister interface {
	ListRepos(ctx context.Context, owner string, perPage int) ([]domain.Repository, error)
}

// Aggregator turns the owner's public repositories into gallery projects.
type Aggregator struct {
	lister   RepoLister
	owner    string
	denylist []string
	log      *zap.Logger
}

type Option func(*Aggregator)

// WithDenylist replaces DefaultDenylist.
func WithDenylist(denylist []string) Option {
	return func(a *Aggregator) {
		a.denylist = denylist
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(a *Aggregator) {
		if log != nil {
			a.log = log
		}
	}
}

func NewAggregator(lister RepoLister, owner string, opts ...Option) (*Aggregator, error) {
	if lister == nil {
		return nil, fmt.Errorf("feed: repo lister must not be nil")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("feed: owner must not be empty")
	}
	a := &Aggregator{
		lister:   lister,
		owner:    owner,
		denylist: DefaultDenylist,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// FetchFeed issues one listing request and returns the display-ready
// projects. Any failure yields an empty list; it is logged, never returned.
func (a *Aggregator) FetchFeed(ctx context.Context) []domain.Project {
	repos, err := a.lister.ListRepos(ctx, a.owner, PageSize)
	if err != nil {
		a.log.Warn("github feed unavailable", zap.String("owner", a.owner), zap.Error(err))
		return []domain.Project{}
	}

	kept := Filter(repos, a.denylist)
	projects := make([]domain.Project, 0, len(kept))
	for _, r := range kept {
		projects = append(projects, ToProject(r))
	}
	a.log.Debug("github feed loaded",
		zap.Int("listed", len(repos)),
		zap.Int("kept", len(projects)),
	)
	return projects
}

// Filter drops forks and repositories whose name contains a denylisted
// substring, case-insensitively. Input order is preserved.
func Filter(repos []domain.Repository, denylist []string) []domain.Repository {
	out := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		if r.Fork || Denied(r.Name, denylist) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Denied reports whether name contains any denylist entry, ignoring case.
func Denied(name string, denylist []string) bool {
	lower := strings.ToLower(name)
	for _, blocked := range denylist {
		blocked = strings.ToLower(strings.TrimSpace(blocked))
		if blocked != "" && strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

// Tags prefers topics, then the primary language, then a generic tag.
func Tags(r domain.Repository) []string {
	if len(r.Topics) > 0 {
		tags := make([]string, len(r.Topics))
		copy(tags, r.Topics)
		return tags
	}
	if r.Language != "" {
		return []string{r.Language}
	}
	return []string{fallbackTag}
}

// Humanize turns a repository name into a display title.
func Humanize(name string) string {
	return strings.NewReplacer("-", " ", "_", " ").Replace(name)
}

// ToProject maps a repository onto the gallery representation.
func ToProject(r domain.Repository) domain.Project {
	value := strings.TrimSpace(r.Description)
	if value == "" {
		value = fallbackValueProposition
	}
	return domain.Project{
		ID:               fmt.Sprintf("%s%d", idPrefix, r.ID),
		Title:            Humanize(r.Name),
		Description:      fetchedDescription,
		ValueProposition: value,
		Achievement:      fmt.Sprintf("%d Stars • %d Forks", r.Stars, r.Forks),
		TechStack:        Tags(r),
		ImageURL:         "https://opengraph.githubassets.com/1/" + r.FullName,
		RepoURL:          r.HTMLURL,
		DemoURL:          r.Homepage,
		Details:          narrative(r),
	}
}

func narrative(r domain.Repository) string {
	lines := []string{"Fetched dynamically from GitHub."}
	if !r.UpdatedAt.IsZero() {
		lines = append(lines, "Last Updated: "+r.UpdatedAt.UTC().Format("Jan 2, 2006"))
	}
	if d := strings.TrimSpace(r.Description); d != "" {
		lines = append(lines, "", d)
	}
	lines = append(lines, "", "Check out the code directly on GitHub to see the latest commits and implementation details.")
	return strings.Join(lines, "\n")
}

// Merge appends fetched projects after the static ones, dropping any entry
// whose ID is already taken.
func Merge(static, fetched []domain.Project) []domain.Project {
	seen := make(map[string]struct{}, len(static)+len(fetched))
	out := make([]domain.Project, 0, len(static)+len(fetched))
	for _, group := range [][]domain.Project{static, fetched} {
		for _, p := range group {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
