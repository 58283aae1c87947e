package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionsSection_SetData(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
		check   func(t *testing.T, s *SessionsSection)
	}{
		{
			name: "duration strings",
			data: map[string]interface{}{"default_timeout": "90s", "sweep_interval": "10s"},
			check: func(t *testing.T, s *SessionsSection) {
				assert.Equal(t, 90*time.Second, s.GetDefaultTimeout())
				assert.Equal(t, 10*time.Second, s.GetSweepInterval())
			},
		},
		{
			name: "numeric durations are nanoseconds",
			data: map[string]interface{}{"action_timeout": float64(2 * time.Second)},
			check: func(t *testing.T, s *SessionsSection) {
				assert.Equal(t, 2*time.Second, s.GetActionTimeout())
			},
		},
		{
			name: "ref prefix and cap",
			data: map[string]interface{}{"ref_prefix": "#", "max_sessions": 8.0},
			check: func(t *testing.T, s *SessionsSection) {
				assert.Equal(t, "#", s.GetRefPrefix())
				assert.Equal(t, 8, s.GetMaxSessions())
			},
		},
		{
			name: "unknown keys ignored",
			data: map[string]interface{}{"theme": "dark"},
			check: func(t *testing.T, s *SessionsSection) {
				assert.Equal(t, 5*time.Minute, s.GetDefaultTimeout())
			},
		},
		{name: "bad duration", data: map[string]interface{}{"default_timeout": "soon"}, wantErr: true},
		{name: "bad type", data: map[string]interface{}{"ref_prefix": 1.0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSessionsSection()
			err := s.SetData(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestSessionsSection_Validate(t *testing.T) {
	s := NewSessionsSection()
	require.NoError(t, s.Validate())

	s.SweepInterval = 100 * time.Millisecond
	assert.Error(t, s.Validate())

	s.Reset()
	s.RefPrefix = ""
	assert.Error(t, s.Validate())

	s.Reset()
	s.SetMaxSessions(-1)
	assert.Error(t, s.Validate())
}

func TestConnectorSection(t *testing.T) {
	s := NewConnectorSection()
	require.NoError(t, s.Validate())
	assert.Empty(t, s.GetAllowedHosts())

	require.NoError(t, s.SetData(map[string]interface{}{
		"allowed_hosts":     []interface{}{"localhost", "*.corp.example"},
		"discovery_timeout": "2s",
	}))
	assert.Equal(t, []string{"localhost", "*.corp.example"}, s.GetAllowedHosts())
	assert.Equal(t, 2*time.Second, s.GetDiscoveryTimeout())
	require.NoError(t, s.Validate())

	assert.Error(t, s.SetData(map[string]interface{}{"allowed_hosts": []interface{}{1.0}}))
}

func TestPoolSection(t *testing.T) {
	s := NewPoolSection()
	require.NoError(t, s.Validate())
	assert.False(t, s.GetIgnoreHTTPSErrors())

	require.NoError(t, s.SetData(map[string]interface{}{
		"max_contexts":        2.0,
		"acquire_timeout":     "1s",
		"ignore_https_errors": true,
	}))
	assert.Equal(t, 2, s.GetMaxContexts())
	assert.Equal(t, time.Second, s.GetAcquireTimeout())
	assert.True(t, s.GetIgnoreHTTPSErrors())

	assert.Error(t, s.SetData(map[string]interface{}{"ignore_https_errors": "yes"}))

	s.Reset()
	assert.Equal(t, 5, s.GetMaxContexts())
}
