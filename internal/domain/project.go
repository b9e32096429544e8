package domain

import "time"

// Project is a single entry in the portfolio gallery.
type Project struct {
	ID               string       `json:"id" yaml:"id"`
	Title            string       `json:"title" yaml:"title"`
	Description      string       `json:"description" yaml:"description"`
	ValueProposition string       `json:"valueProposition,omitempty" yaml:"valueProposition"`
	Achievement      string       `json:"achievement,omitempty" yaml:"achievement"`
	TechStack        []string     `json:"techStack" yaml:"techStack"`
	ImageURL         string       `json:"imageUrl" yaml:"imageUrl"`
	RepoURL          string       `json:"repoUrl,omitempty" yaml:"repoUrl"`
	DemoURL          string       `json:"demoUrl,omitempty" yaml:"demoUrl"`
	Details          string       `json:"details" yaml:"details"`
	Code             *CodeSnippet `json:"codeSnippet,omitempty" yaml:"codeSnippet"`
	Complexity       string       `json:"complexity,omitempty" yaml:"complexity"`
	Scale            string       `json:"scale,omitempty" yaml:"scale"`
	Architecture     string       `json:"architecture,omitempty" yaml:"architecture"`
}

// CodeSnippet is an optional excerpt shown in the project detail view.
type CodeSnippet struct {
	Language string `json:"language" yaml:"language"`
	Code     string `json:"code" yaml:"code"`
}

// Repository is the subset of a GitHub repository descriptor the feed consumes.
type Repository struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Fork        bool      `json:"fork"`
	Topics      []string  `json:"topics"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Homepage    string    `json:"homepage"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}
