package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		want      []string
		wantErr   bool
	}{
		{
			name:      "empty selection means all",
			requested: nil,
			want:      Names(Specs),
		},
		{
			name:      "all sentinel",
			requested: []string{"all"},
			want:      Names(Specs),
		},
		{
			name:      "canonical name",
			requested: []string{"GeoIP2-City.mmdb"},
			want:      []string{"GeoIP2-City.mmdb"},
		},
		{
			name:      "case insensitive canonical name",
			requested: []string{"geoip2-city.mmdb"},
			want:      []string{"GeoIP2-City.mmdb"},
		},
		{
			name:      "name without extension",
			requested: []string{"geoip2-country"},
			want:      []string{"GeoIP2-Country.mmdb"},
		},
		{
			name:      "short alias",
			requested: []string{"city"},
			want:      []string{"GeoIP2-City.mmdb"},
		},
		{
			name:      "provider bulk selector",
			requested: []string{"maxmind/all"},
			want:      Names(ByProvider(ProviderMaxMind)),
		},
		{
			name:      "ip2location bulk selector",
			requested: []string{"ip2location/all"},
			want:      Names(ByProvider(ProviderIP2Location)),
		},
		{
			name:      "duplicates collapse",
			requested: []string{"city", "GeoIP2-City.mmdb", "geoip2-city"},
			want:      []string{"GeoIP2-City.mmdb"},
		},
		{
			name:      "mixed aliases and names",
			requested: []string{"proxy", "isp"},
			want:      []string{"GeoIP2-ISP.mmdb", "IP2PROXY-IP-PROXYTYPE-COUNTRY.BIN"},
		},
		{
			name:      "surrounding whitespace is trimmed",
			requested: []string{"  city  "},
			want:      []string{"GeoIP2-City.mmdb"},
		},
		{
			name:      "unknown name fails the whole resolution",
			requested: []string{"city", "nope.mmdb"},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := Resolve(tt.requested)
			if tt.wantErr {
				require.Error(t, err)

				var unknownErr *UnknownDatabaseError
				require.True(t, errors.As(err, &unknownErr))
				assert.Equal(t, "nope.mmdb", unknownErr.Name)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, Names(specs))
		})
	}
}

func TestLookup(t *testing.T) {
	spec, ok := Lookup("GeoIP2-City.mmdb")
	require.True(t, ok)
	assert.Equal(t, FormatMMDB, spec.Format)
	assert.Equal(t, ProviderMaxMind, spec.Provider)

	_, ok = Lookup("city")
	assert.False(t, ok, "Lookup matches canonical names only")
}

func TestByProvider(t *testing.T) {
	for _, spec := range ByProvider(ProviderIP2Location) {
		assert.Equal(t, FormatBIN, spec.Format)
	}

	for _, spec := range ByProvider(ProviderMaxMind) {
		assert.Equal(t, FormatMMDB, spec.Format)
	}

	assert.Len(t, ByProvider(ProviderMaxMind), 4)
	assert.Len(t, ByProvider(ProviderIP2Location), 3)
}

func TestSpecsHaveMinSizes(t *testing.T) {
	for _, spec := range Specs {
		assert.Positive(t, spec.MinSizeBytes, "spec %s must reject empty files", spec.Name)
	}
}
