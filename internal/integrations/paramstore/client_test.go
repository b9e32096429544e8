package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func mustNew(t *testing.T, api ssmAPI) *Client {
	t.Helper()
	c, err := New(api, "/portfolio/")
	require.NoError(t, err)
	return c
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/portfolio/gemini-api-key"), Value: strPtr(`{"token":"k"}`), Type: types.ParameterTypeSecureString,
	}}}
	c := mustNew(t, api)

	v, err := c.GetParameter(context.Background(), "gemini-api-key")
	require.NoError(t, err)
	require.Equal(t, `{"token":"k"}`, v)
	require.Equal(t, "/portfolio/gemini-api-key", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestName_JoinsPrefix(t *testing.T) {
	c := mustNew(t, &fakeAPI{})
	require.Equal(t, "/portfolio/config/gemini_model", c.Name("/config/gemini_model"))
	require.Equal(t, "/portfolio/config/gemini_model", c.Name("config/gemini_model"))
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	c := mustNew(t, api)
	_, err := c.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	c := mustNew(t, &fakeAPI{getErr: errors.New("boom")})
	_, err := c.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestGetParameter_NotFound(t *testing.T) {
	c := mustNew(t, &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("nope")}})
	_, err := c.GetParameter(context.Background(), "p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOptional(t *testing.T) {
	c := mustNew(t, &fakeAPI{getErr: &types.ParameterNotFound{}})
	v, err := c.GetOptional(context.Background(), "config/gemini_model", "gemini-default")
	require.NoError(t, err)
	require.Equal(t, "gemini-default", v)

	c = mustNew(t, &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: strPtr(" gemini-custom ")}}})
	v, err = c.GetOptional(context.Background(), "config/gemini_model", "gemini-default")
	require.NoError(t, err)
	require.Equal(t, "gemini-custom", v)

	c = mustNew(t, &fakeAPI{getErr: errors.New("access denied")})
	_, err = c.GetOptional(context.Background(), "config/gemini_model", "gemini-default")
	require.ErrorContains(t, err, "access denied")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyKey(t *testing.T) {
	c := mustNew(t, &fakeAPI{})
	_, err := c.GetParameter(context.Background(), " / ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "/portfolio")
	require.ErrorContains(t, err, "must not be nil")

	_, err = New(&fakeAPI{}, " / ")
	require.ErrorContains(t, err, "prefix")
}
