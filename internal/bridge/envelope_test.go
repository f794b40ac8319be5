package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		channel string
		want    Target
		wantErr bool
	}{
		{channel: "target:user:u1", want: Target{Kind: TargetUser, ID: "u1"}},
		{channel: "target:workspace:ws1", want: Target{Kind: TargetWorkspace, ID: "ws1"}},
		{channel: "target:query:q-42", want: Target{Kind: TargetQuery, ID: "q-42"}},
		{channel: "target:broadcast", want: Target{Kind: TargetBroadcast}},
		{channel: "target.user.u1", want: Target{Kind: TargetUser, ID: "u1"}},
		{channel: "target.broadcast", want: Target{Kind: TargetBroadcast}},
		{channel: "target:user:org:u1", want: Target{Kind: TargetUser, ID: "org:u1"}},
		{channel: "target:user:", wantErr: true},
		{channel: "target:user", wantErr: true},
		{channel: "target:team:t1", wantErr: true},
		{channel: "target:broadcast:x", wantErr: true},
		{channel: "notifications:user:u1", wantErr: true},
		{channel: "target", wantErr: true},
		{channel: "targetXuser:u1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			got, err := ParseTarget(tt.channel)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnknownTarget), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetNames(t *testing.T) {
	user := Target{Kind: TargetUser, ID: "u1"}
	assert.Equal(t, "user:u1", user.Room())
	assert.Equal(t, "target:user:u1", user.Channel())
	assert.Equal(t, "target.user.u1", user.Subject())

	all := Target{Kind: TargetBroadcast}
	assert.Equal(t, "", all.Room())
	assert.Equal(t, "target:broadcast", all.Channel())
	assert.Equal(t, "target.broadcast", all.Subject())
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"event":"notification:new","data":{"id":"msg-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "notification:new", env.Event)
	assert.JSONEq(t, `{"id":"msg-1"}`, string(env.Data))

	env, err = DecodeEnvelope([]byte(`{"event":"ping","data":null}`))
	require.NoError(t, err)
	assert.Nil(t, env.Data)

	for _, bad := range []string{
		`not json`,
		`{"data":{}}`,
		`{"event":"  "}`,
		`{"event":"x","data":[1,2]}`,
		`{"event":"x","data":"str"}`,
		`["event"]`,
	} {
		_, err := DecodeEnvelope([]byte(bad))
		assert.True(t, errors.Is(err, ErrMalformedEnvelope), bad)
	}
}
