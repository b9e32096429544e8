package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"portfolio-backend/internal/domain"
	"portfolio-backend/internal/feed"
)

// FeedSource supplies projects discovered at request time. It never fails;
// an unavailable source yields an empty list.
type FeedSource interface {
	FetchFeed(ctx context.Context) []domain.Project
}

// defaultFeedTTL keeps warm instances well under GitHub's unauthenticated
// limit of 60 requests per hour.
const defaultFeedTTL = 10 * time.Minute

// ProjectService serves the gallery: hand-picked projects first, then the feed.
type ProjectService struct {
	static []domain.Project
	source FeedSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cached    []domain.Project
	fetchedAt time.Time
}

type ProjectOption func(*ProjectService)

// WithFeedTTL sets how long a non-empty feed is reused. Zero disables caching.
func WithFeedTTL(d time.Duration) ProjectOption {
	return func(s *ProjectService) {
		if d >= 0 {
			s.ttl = d
		}
	}
}

// NewProjectService creates a ProjectService. source may be nil.
func NewProjectService(static []domain.Project, source FeedSource, opts ...ProjectOption) *ProjectService {
	s := &ProjectService{static: static, source: source, ttl: defaultFeedTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ProjectService) List(ctx context.Context) []domain.Project {
	return feed.Merge(s.static, s.fetch(ctx))
}

// fetch returns the cached feed while fresh. Empty results mean the source
// failed and are never cached.
func (s *ProjectService) fetch(ctx context.Context) []domain.Project {
	if s.source == nil {
		return nil
	}
	s.mu.Lock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		cached := s.cached
		s.mu.Unlock()
		return cached
	}
	s.mu.Unlock()

	fetched := s.source.FetchFeed(ctx)
	if len(fetched) > 0 && s.ttl > 0 {
		s.mu.Lock()
		s.cached = fetched
		s.fetchedAt = s.now()
		s.mu.Unlock()
	}
	return fetched
}

// ProfileOutput is the biography plus the assistant's opening line.
type ProfileOutput struct {
	domain.Profile
	Greeting string `json:"greeting"`
}

type ProfileService struct {
	out ProfileOutput
}

func NewProfileService(profile domain.Profile, greeting string) (*ProfileService, error) {
	if profile.Email == "" {
		return nil, errors.New("usecase: profile email must not be empty")
	}
	return &ProfileService{out: ProfileOutput{Profile: profile, Greeting: greeting}}, nil
}

func (s *ProfileService) Get() ProfileOutput {
	return s.out
}
