package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Format identifies the binary layout of a database file.
type Format string

const (
	FormatMMDB Format = "mmdb"
	FormatBIN  Format = "bin"
)

// Provider identifies where a database originates from.
type Provider string

const (
	ProviderMaxMind     Provider = "maxmind"
	ProviderIP2Location Provider = "ip2location"
)

// AllDatabases is the sentinel accepted in place of an explicit database list.
const AllDatabases = "all"

// DatabaseSpec is a static catalog entry for a distributable database file.
type DatabaseSpec struct {
	Name         string
	Format       Format
	Provider     Provider
	MinSizeBytes int64
	Aliases      []string
}

// Specs is the fixed catalog of databases the distribution service offers.
// MinSizeBytes rejects error pages and truncated transfers before format
// validation runs; the real files are orders of magnitude larger.
var Specs = []DatabaseSpec{
	{
		Name:         "GeoIP2-City.mmdb",
		Format:       FormatMMDB,
		Provider:     ProviderMaxMind,
		MinSizeBytes: 1000,
		Aliases:      []string{"city", "geoip2-city"},
	},
	{
		Name:         "GeoIP2-Country.mmdb",
		Format:       FormatMMDB,
		Provider:     ProviderMaxMind,
		MinSizeBytes: 1000,
		Aliases:      []string{"country", "geoip2-country"},
	},
	{
		Name:         "GeoIP2-ISP.mmdb",
		Format:       FormatMMDB,
		Provider:     ProviderMaxMind,
		MinSizeBytes: 1000,
		Aliases:      []string{"isp", "geoip2-isp"},
	},
	{
		Name:         "GeoIP2-Connection-Type.mmdb",
		Format:       FormatMMDB,
		Provider:     ProviderMaxMind,
		MinSizeBytes: 1000,
		Aliases:      []string{"connection-type", "geoip2-connection-type"},
	},
	{
		Name:         "IP-COUNTRY-REGION-CITY-LATITUDE-LONGITUDE-ISP-DOMAIN-MOBILE-USAGETYPE.BIN",
		Format:       FormatBIN,
		Provider:     ProviderIP2Location,
		MinSizeBytes: 1000,
		Aliases:      []string{"ip-country", "ipv4-full"},
	},
	{
		Name:         "IPV6-COUNTRY-REGION-CITY-LATITUDE-LONGITUDE-ISP-DOMAIN-MOBILE-USAGETYPE.BIN",
		Format:       FormatBIN,
		Provider:     ProviderIP2Location,
		MinSizeBytes: 1000,
		Aliases:      []string{"ipv6-country", "ipv6-full"},
	},
	{
		Name:         "IP2PROXY-IP-PROXYTYPE-COUNTRY.BIN",
		Format:       FormatBIN,
		Provider:     ProviderIP2Location,
		MinSizeBytes: 1000,
		Aliases:      []string{"proxy", "ip2proxy"},
	},
}

// UnknownDatabaseError reports a requested name that resolves to nothing in the catalog.
type UnknownDatabaseError struct {
	Name string
}

func (e *UnknownDatabaseError) Error() string {
	return fmt.Sprintf("unknown database %q: run 'geoipsync databases' for the available names", e.Name)
}

// Lookup finds a spec by its exact canonical name.
func Lookup(name string) (DatabaseSpec, bool) {
	for _, spec := range Specs {
		if spec.Name == name {
			return spec, true
		}
	}

	return DatabaseSpec{}, false
}

// ByProvider returns all specs for the given provider.
func ByProvider(p Provider) []DatabaseSpec {
	return lo.Filter(Specs, func(spec DatabaseSpec, _ int) bool {
		return spec.Provider == p
	})
}

// Resolve expands the requested names into catalog specs.
//
// Accepted inputs, all case-insensitive:
//   - the "all" sentinel or an empty list: the full catalog
//   - "<provider>/all" bulk selectors (maxmind/all, ip2location/all)
//   - canonical file names, with or without extension
//   - short aliases such as "city" or "proxy"
//
// Duplicate selections collapse to one entry. An unresolvable name is a
// configuration error and fails the whole resolution.
func Resolve(requested []string) ([]DatabaseSpec, error) {
	if len(requested) == 0 {
		return Specs, nil
	}

	seen := make(map[string]struct{}, len(requested))
	resolved := make([]DatabaseSpec, 0, len(requested))

	add := func(specs ...DatabaseSpec) {
		for _, spec := range specs {
			if _, ok := seen[spec.Name]; ok {
				continue
			}

			seen[spec.Name] = struct{}{}
			resolved = append(resolved, spec)
		}
	}

	for _, raw := range requested {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}

		switch name {
		case AllDatabases:
			add(Specs...)

			continue
		case string(ProviderMaxMind) + "/" + AllDatabases:
			add(ByProvider(ProviderMaxMind)...)

			continue
		case string(ProviderIP2Location) + "/" + AllDatabases:
			add(ByProvider(ProviderIP2Location)...)

			continue
		}

		spec, ok := match(name)
		if !ok {
			return nil, &UnknownDatabaseError{Name: strings.TrimSpace(raw)}
		}

		add(spec)
	}

	if len(resolved) == 0 {
		return Specs, nil
	}

	return resolved, nil
}

// Names returns the canonical names of the given specs, sorted.
func Names(specs []DatabaseSpec) []string {
	names := lo.Map(specs, func(spec DatabaseSpec, _ int) string {
		return spec.Name
	})
	sort.Strings(names)

	return names
}

func match(lowered string) (DatabaseSpec, bool) {
	for _, spec := range Specs {
		if strings.EqualFold(spec.Name, lowered) {
			return spec, true
		}

		base := strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(spec.Name), ".mmdb"), ".bin")
		if base == lowered {
			return spec, true
		}

		for _, alias := range spec.Aliases {
			if alias == lowered {
				return spec, true
			}
		}
	}

	return DatabaseSpec{}, false
}
