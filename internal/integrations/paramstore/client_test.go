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
	getOut   *ssm.GetParameterOutput
	getErr   error
	calls    int
	lastName string
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	f.lastName = *in.Name
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func valueOut(v string) *ssm.GetParameterOutput {
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr(v)}}
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: valueOut(`{"secret":"s3"}`)}
	client, err := New(api, "/voice-booking")
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "/voice-booking/webhook-secret")
	require.NoError(t, err)
	require.Equal(t, `{"secret":"s3"}`, v)
	require.Equal(t, "/voice-booking/webhook-secret", api.lastName)
}

func TestGetParameter_RelativeNameUsesPrefix(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("v")}
	client, err := New(api, " /voice-booking/ ")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "google-service-account")
	require.NoError(t, err)
	require.Equal(t, "/voice-booking/google-service-account", api.lastName)
}

func TestGetParameter_CachesValue(t *testing.T) {
	api := &fakeAPI{getOut: valueOut("v")}
	client, err := New(api, "/voice-booking")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		v, err := client.GetParameter(context.Background(), "webhook-secret")
		require.NoError(t, err)
		require.Equal(t, "v", v)
	}
	require.Equal(t, 1, api.calls, "SSM must only be called once per parameter")
}

func TestGetParameter_ErrorsAreNotCached(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("throttled")}
	client, err := New(api, "/voice-booking")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "webhook-secret")
	require.Error(t, err)

	api.getErr = nil
	api.getOut = valueOut("v")
	v, err := client.GetParameter(context.Background(), "webhook-secret")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	require.Equal(t, 2, api.calls)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestGetJSON(t *testing.T) {
	api := &fakeAPI{getOut: valueOut(`{"secret":"s3"}`)}
	client, err := New(api, "/voice-booking")
	require.NoError(t, err)

	var payload struct {
		Secret string `json:"secret"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "webhook-secret", &payload))
	require.Equal(t, "s3", payload.Secret)
}

func TestGetJSON_Malformed(t *testing.T) {
	client, err := New(&fakeAPI{getOut: valueOut("plain")}, "/voice-booking")
	require.NoError(t, err)
	var payload map[string]any
	err = client.GetJSON(context.Background(), "webhook-secret", &payload)
	require.Error(t, err)
	require.Contains(t, err.Error(), "as JSON")
}

func TestName(t *testing.T) {
	client, err := New(&fakeAPI{}, "/voice-booking/")
	require.NoError(t, err)
	require.Equal(t, "/voice-booking/webhook-secret", client.Name("/webhook-secret"))

	bare, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	require.Equal(t, "/webhook-secret", bare.Name("webhook-secret"))
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "/voice-booking")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}
