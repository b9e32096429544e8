package domain

// Experience is one entry of the work history.
type Experience struct {
	ID          string   `json:"id" yaml:"id"`
	Role        string   `json:"role" yaml:"role"`
	Company     string   `json:"company" yaml:"company"`
	Period      string   `json:"period" yaml:"period"`
	Description []string `json:"description" yaml:"description"`
}

// SkillCategory groups related skills for display.
type SkillCategory struct {
	Name   string   `json:"name" yaml:"name"`
	Skills []string `json:"skills" yaml:"skills"`
}

// Profile is the static biography content served to the SPA.
type Profile struct {
	Email       string          `json:"email" yaml:"email"`
	GitHubURL   string          `json:"githubUrl" yaml:"githubUrl"`
	LinkedInURL string          `json:"linkedinUrl" yaml:"linkedinUrl"`
	BioShort    string          `json:"bioShort" yaml:"bioShort"`
	BioLong     string          `json:"bioLong" yaml:"bioLong"`
	Experience  []Experience    `json:"experience" yaml:"experience"`
	Skills      []SkillCategory `json:"skills" yaml:"skills"`
}
