package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"portfolio-backend/internal/domain"
)

// fakeGetter is a minimal paramstore getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

type fakeChat struct {
	chunks []*genai.GenerateContentResponse
	err    error
	parts  []genai.Part
}

func (c *fakeChat) SendMessageStream(_ context.Context, parts ...genai.Part) iter.Seq2[*genai.GenerateContentResponse, error] {
	c.parts = parts
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, ch := range c.chunks {
			if !yield(ch, nil) {
				return
			}
		}
		if c.err != nil {
			yield(nil, c.err)
		}
	}
}

func textChunk(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: s}}},
		}},
	}
}

type createCall struct {
	apiKey  string
	model   string
	config  *genai.GenerateContentConfig
	history []*genai.Content
}

func newTestFactory(t *testing.T, keys KeySource, c *fakeChat, createErr error, opts ...Option) (*Factory, *[]createCall) {
	t.Helper()
	f, err := NewFactory(keys, "You are an AI version of the portfolio owner.", opts...)
	require.NoError(t, err)
	calls := &[]createCall{}
	f.create = func(_ context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (streamer, error) {
		*calls = append(*calls, createCall{apiKey: apiKey, model: model, config: config, history: history})
		if createErr != nil {
			return nil, createErr
		}
		return c, nil
	}
	return f, calls
}

func collect(t *testing.T, seq iter.Seq2[string, error]) ([]string, error) {
	t.Helper()
	var out []string
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func TestNewFactory_Validates(t *testing.T) {
	_, err := NewFactory(nil, "persona")
	require.Error(t, err)

	_, err = NewFactory(StaticKey("k"), "  ")
	require.ErrorContains(t, err, "instruction")
}

func TestNewSession_ConfiguresPersonaAndTemperature(t *testing.T) {
	f, calls := newTestFactory(t, StaticKey("sk-test"), &fakeChat{}, nil, WithModel("gemini-custom"))

	_, err := f.NewSession(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	require.Equal(t, "sk-test", call.apiKey)
	require.Equal(t, "gemini-custom", call.model)
	require.Equal(t, "gemini-custom", f.Model())
	require.NotNil(t, call.config.Temperature)
	require.InDelta(t, 0.7, *call.config.Temperature, 1e-6)
	require.Equal(t, "You are an AI version of the portfolio owner.", call.config.SystemInstruction.Parts[0].Text)
	require.Nil(t, call.history)
}

func TestNewSession_ReplaysHistoryWithGenAIRoles(t *testing.T) {
	f, calls := newTestFactory(t, StaticKey("sk-test"), &fakeChat{}, nil)

	_, err := f.NewSession(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleUser, Text: "Where are you based?"},
		{Role: domain.RoleAssistant, Text: "Exeter, UK."},
	})
	require.NoError(t, err)

	history := (*calls)[0].history
	require.Len(t, history, 2)
	require.Equal(t, genai.RoleUser, history[0].Role)
	require.Equal(t, "Where are you based?", history[0].Parts[0].Text)
	require.Equal(t, genai.RoleModel, history[1].Role)
	require.Equal(t, "Exeter, UK.", history[1].Parts[0].Text)
}

func TestNewSession_MissingCredential(t *testing.T) {
	f, calls := newTestFactory(t, StaticKey(""), &fakeChat{}, nil)

	_, err := f.NewSession(context.Background(), nil)
	require.ErrorContains(t, err, "API key is empty")
	require.Empty(t, *calls)
}

func TestNewSession_CreateErrorClassified(t *testing.T) {
	f, _ := newTestFactory(t, StaticKey("sk-test"), nil, genai.APIError{Code: http.StatusForbidden, Status: "PERMISSION_DENIED", Message: "API key not valid"})

	_, err := f.NewSession(context.Background(), nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusForbidden, statusErr.HTTPStatusCode())
}

func TestResolveAPIKey_CachedAfterSuccess(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	g.onCall = func() { calls++ }
	f, _ := newTestFactory(t, ParamStoreKey{Getter: g, Key: "gemini-api-key"}, &fakeChat{}, nil)

	for i := 0; i < 3; i++ {
		_, err := f.NewSession(context.Background(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 1, calls, "SSM must only be called once after a successful fetch")
}

func TestResolveAPIKey_FailureNotCached(t *testing.T) {
	calls := 0
	g := &fakeGetter{err: errors.New("ssm unavailable")}
	g.onCall = func() { calls++ }
	f, _ := newTestFactory(t, ParamStoreKey{Getter: g, Key: "gemini-api-key"}, &fakeChat{}, nil)

	_, err := f.NewSession(context.Background(), nil)
	require.ErrorContains(t, err, "ssm unavailable")

	g.err = nil
	g.val = `{"token":"sk-later"}`
	_, err = f.NewSession(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestNewSession_RejectedKeyIsReloaded(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			reads := 0
			g := &fakeGetter{val: `{"token":"sk-old"}`}
			g.onCall = func() { reads++ }
			f, calls := newTestFactory(t, ParamStoreKey{Getter: g, Key: "gemini-api-key"}, &fakeChat{}, nil)
			create := f.create
			f.create = func(ctx context.Context, apiKey, model string, config *genai.GenerateContentConfig, history []*genai.Content) (streamer, error) {
				if apiKey == "sk-old" {
					*calls = append(*calls, createCall{apiKey: apiKey})
					return nil, genai.APIError{Code: status, Message: "API key not valid"}
				}
				return create(ctx, apiKey, model, config, history)
			}

			_, err := f.NewSession(context.Background(), nil)
			require.Error(t, err)

			g.val = `{"token":"sk-rotated"}`
			_, err = f.NewSession(context.Background(), nil)
			require.NoError(t, err)
			require.Equal(t, 2, reads)
			require.Equal(t, "sk-rotated", (*calls)[len(*calls)-1].apiKey)
		})
	}
}

func TestNewSession_OtherErrorsKeepKey(t *testing.T) {
	reads := 0
	g := &fakeGetter{val: `{"token":"sk-test"}`}
	g.onCall = func() { reads++ }
	f, _ := newTestFactory(t, ParamStoreKey{Getter: g, Key: "gemini-api-key"}, nil, genai.APIError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE"})

	for i := 0; i < 2; i++ {
		_, err := f.NewSession(context.Background(), nil)
		require.Error(t, err)
	}
	require.Equal(t, 1, reads)
}

func TestSession_StreamsTextFragments(t *testing.T) {
	fc := &fakeChat{chunks: []*genai.GenerateContentResponse{textChunk("Hey"), nil, textChunk(""), textChunk(", I'm Sandeep.")}}
	f, _ := newTestFactory(t, StaticKey("sk-test"), fc, nil)

	s, err := f.NewSession(context.Background(), nil)
	require.NoError(t, err)

	fragments, err := collect(t, s.SendMessageStream(context.Background(), "Who are you?"))
	require.NoError(t, err)
	require.Equal(t, []string{"Hey", "", ", I'm Sandeep."}, fragments)
	require.Len(t, fc.parts, 1)
	require.Equal(t, "Who are you?", fc.parts[0].Text)
}

func TestSession_MidStreamErrorIsTerminal(t *testing.T) {
	fc := &fakeChat{
		chunks: []*genai.GenerateContentResponse{textChunk("partial")},
		err:    fmt.Errorf("stream: %w", genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}),
	}
	f, _ := newTestFactory(t, StaticKey("sk-test"), fc, nil)
	s, err := f.NewSession(context.Background(), nil)
	require.NoError(t, err)

	fragments, err := collect(t, s.SendMessageStream(context.Background(), "hi"))
	require.Equal(t, []string{"partial"}, fragments)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestClassify_PassesThroughOtherErrors(t *testing.T) {
	base := errors.New("connection reset")
	require.Equal(t, base, classify(base))
}

func TestFetchAPIKey_JSONToken(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-json"}`}
	key, err := fetchAPIKeyFromParamStore(context.Background(), g, "gemini-api-key")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestFetchAPIKey_JSONMissingTokenField(t *testing.T) {
	g := &fakeGetter{val: `{"other":"value"}`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "gemini-api-key")
	require.ErrorContains(t, err, "API token is empty")
}

func TestFetchAPIKey_MalformedJSON(t *testing.T) {
	g := &fakeGetter{val: `{"broken`}
	_, err := fetchAPIKeyFromParamStore(context.Background(), g, "gemini-api-key")
	require.ErrorContains(t, err, "unmarshal")
}

func TestFetchAPIKey_NilGetterAndEmptyName(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "gemini-api-key")
	require.ErrorContains(t, err, "nil")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}

func TestStaticKey(t *testing.T) {
	k, err := StaticKey("  sk-x ").APIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-x", k)
}
