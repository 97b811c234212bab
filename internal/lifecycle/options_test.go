package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trentmillar/keystone-net/internal/lifecycle"
)

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		name    string
		opts    lifecycle.Options
		wantErr bool
	}{
		{"defaults", lifecycle.Options{RefreshTokenLifetime: time.Hour}, false},
		{"rolling with storage", lifecycle.Options{RollingTokens: true, RefreshTokenLifetime: time.Hour}, false},
		{"sliding without storage but rolling", lifecycle.Options{RollingTokens: true, SlidingExpiration: true, RefreshTokenLifetime: time.Hour}, false},
		{"zero lifetime", lifecycle.Options{}, true},
		{"negative lifetime", lifecycle.Options{RefreshTokenLifetime: -time.Minute}, true},
		{"rolling without storage", lifecycle.Options{RollingTokens: true, DisableTokenStorage: true, RefreshTokenLifetime: time.Hour}, true},
		{"sliding without storage", lifecycle.Options{SlidingExpiration: true, DisableTokenStorage: true, RefreshTokenLifetime: time.Hour}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr {
				require.Error(t, err)
				var cfgErr *lifecycle.ConfigurationError
				require.ErrorAs(t, err, &cfgErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
