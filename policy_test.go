package recordseal

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestResolveMode(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		want    Mode
		wantErr bool
	}{
		{
			name: "explicit plain outside production",
			cfg:  &Config{Mode: ModePlain},
			want: ModePlain,
		},
		{
			name: "explicit dev-enc",
			cfg:  &Config{Mode: ModeDevEnc},
			want: ModeDevEnc,
		},
		{
			name: "explicit prod-enc",
			cfg:  &Config{Mode: ModeProdEnc, Production: true},
			want: ModeProdEnc,
		},
		{
			name:    "nil config",
			wantErr: true,
		},
		{
			name:    "unrecognized mode",
			cfg:     &Config{Mode: "rot13"},
			wantErr: true,
		},
		{
			name:    "plain in production",
			cfg:     &Config{Mode: ModePlain, Production: true},
			wantErr: true,
		},
		{
			name:    "unconfigured production does not default",
			cfg:     &Config{Production: true},
			wantErr: true,
		},
		{
			name: "unconfigured non-production falls back to dev-enc",
			cfg:  &Config{},
			want: ModeDevEnc,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveMode(tt.cfg)
			if tt.wantErr {
				assert.Equal(t, ErrInvalidMode, errors.Cause(err))
				assert.Empty(t, got)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
