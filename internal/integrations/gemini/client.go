package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"portfolio-backend/internal/chat"
	"portfolio-backend/internal/domain"
)

const (
	DefaultModel = "gemini-3-flash-preview"

	// DefaultTemperature leaves a bit of creativity for the persona.
	DefaultTemperature float32 = 0.7
)

// tokenPayload is the expected JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, key string) (string, error)
}

// KeySource resolves the Gemini API key.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource for keys passed on the command line.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", errors.New("gemini: API key is empty")
	}
	return strings.TrimSpace(string(k)), nil
}

// ParamStoreKey reads a {"token":"..."} document from the parameter store.
type ParamStoreKey struct {
	Getter Getter
	Key    string
}

func (k ParamStoreKey) APIKey(ctx context.Context) (string, error) {
	return fetchAPIKeyFromParamStore(ctx, k.Getter, k.Key)
}

// StatusError captures non-2xx responses from the Gemini API.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// streamer is the part of *genai.Chat a session needs.
type streamer interface {
	SendMessageStream(ctx context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error]
}

type chatCreator func(ctx context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (streamer, error)

// Factory creates Gemini chat sessions with a fixed persona instruction and
// sampling temperature.
type Factory struct {
	keys        KeySource
	model       string
	instruction string
	temperature float32
	baseURL     string
	create      chatCreator

	mu     sync.Mutex
	apiKey string
	client *genai.Client
}

type Option func(*Factory)

func WithModel(model string) Option {
	return func(f *Factory) {
		if model = strings.TrimSpace(model); model != "" {
			f.model = model
		}
	}
}

func WithTemperature(t float32) Option {
	return func(f *Factory) {
		f.temperature = t
	}
}

func WithBaseURL(baseURL string) Option {
	return func(f *Factory) {
		f.baseURL = strings.TrimSpace(baseURL)
	}
}

// NewFactory creates a Factory. The API key is resolved on the first
// session creation; only a successfully resolved key is kept.
func NewFactory(keys KeySource, instruction string, opts ...Option) (*Factory, error) {
	if keys == nil {
		return nil, errors.New("gemini: key source must not be nil")
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, errors.New("gemini: persona instruction must not be empty")
	}
	f := &Factory{
		keys:        keys,
		model:       DefaultModel,
		instruction: strings.TrimSpace(instruction),
		temperature: DefaultTemperature,
	}
	f.create = f.createChat
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Model returns the configured model id.
func (f *Factory) Model() string {
	return f.model
}

// NewSession implements chat.SessionFactory.
func (f *Factory) NewSession(ctx context.Context, history []domain.ChatMessage) (chat.Session, error) {
	apiKey, err := f.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	c, err := f.create(ctx, apiKey, f.model, f.config(), toContents(history))
	if err != nil {
		err = classify(err)
		if rejectedKey(err) {
			f.forgetKey(apiKey)
		}
		return nil, fmt.Errorf("gemini: create chat: %w", err)
	}
	return &session{chat: c}, nil
}

// forgetKey drops a rotated or revoked key and the client built on it so the
// next session re-reads the key source.
func (f *Factory) forgetKey(apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiKey != apiKey {
		return
	}
	f.apiKey = ""
	f.client = nil
}

func rejectedKey(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

func (f *Factory) resolveAPIKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.apiKey != "" {
		return f.apiKey, nil
	}
	key, err := f.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	f.apiKey = key
	return key, nil
}

func (f *Factory) config() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(f.instruction, genai.RoleUser),
		Temperature:       genai.Ptr(f.temperature),
	}
}

func (f *Factory) createChat(ctx context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (streamer, error) {
	client, err := f.clientFor(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	c, err := client.Chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (f *Factory) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client != nil {
		return f.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: f.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	f.client = client
	return client, nil
}

// toContents maps transcript messages onto genai roles.
func toContents(history []domain.ChatMessage) []*genai.Content {
	if len(history) == 0 {
		return nil
	}
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Text, role))
	}
	return out
}

type session struct {
	chat streamer
}

func (s *session) SendMessageStream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range s.chat.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				yield("", classify(err))
				return
			}
			if resp == nil {
				continue
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}

// classify converts genai API errors into *StatusError so callers can
// inspect the upstream status.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{StatusCode: apiErrPtr.Code, Status: apiErrPtr.Status, Message: apiErrPtr.Message}
	}
	return err
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, key string) (string, error) {
	if getter == nil {
		return "", errors.New("gemini: paramstore getter is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("gemini: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, key)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("gemini: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("gemini: API token is empty")
	}
	return tp.Token, nil
}
