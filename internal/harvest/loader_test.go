package harvest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var websiteColumns = Columns{Link: "Business Website", Email: "Business Email", Fallback: "Facebook Link"}

func TestLoadTargetsResolvesHeadersAndSkipsEmptyLinks(t *testing.T) {
	t.Parallel()

	store := newGridStore(
		[]string{"Name", " business website ", "BUSINESS EMAIL", "Facebook Link"},
		[]string{"Acme", "acme.test/shop", "", "https://facebook.com/acme"},
		[]string{"Blank", "   ", "", ""},
		[]string{"Bakery", "https://Bakery.test/", ""},
		[]string{"Broken", "http://exa mple.com", ""},
	)

	targets, cols, err := LoadTargets(context.Background(), store, "Sheet1!A1:Z9999", websiteColumns, URLOrigin, nil)
	require.NoError(t, err)
	require.Equal(t, 1, cols.Link)
	require.Equal(t, 2, cols.Email)
	require.Equal(t, 3, cols.Fallback)
	require.Equal(t, 0, cols.Name)

	require.Equal(t, []Target{
		{Row: 2, URL: "http://acme.test", DisplayName: "Acme", FallbackValue: "https://facebook.com/acme"},
		{Row: 4, URL: "https://Bakery.test", DisplayName: "Bakery", FallbackValue: ""},
	}, targets)
}

func TestLoadTargetsRowsStartAtRangeOffset(t *testing.T) {
	t.Parallel()

	store := newGridStore(
		[]string{"Facebook Link", "Business Email"},
		[]string{"facebook.com/acme", ""},
	)
	targets, _, err := LoadTargets(context.Background(), store, "Sheet1!A3:B9",
		Columns{Link: "Facebook Link", Email: "Business Email"}, URLFull, nil)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, 4, targets[0].Row)
	require.Equal(t, "https://facebook.com/acme", targets[0].URL)
	require.Equal(t, "facebook.com/acme", targets[0].FallbackValue)
}

func TestLoadTargetsConfigurationErrors(t *testing.T) {
	t.Parallel()

	_, _, err := LoadTargets(context.Background(), newGridStore(), "Sheet1", websiteColumns, URLOrigin, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	store := newGridStore([]string{"Name", "Business Website"})
	_, _, err = LoadTargets(context.Background(), store, "Sheet1", websiteColumns, URLOrigin, nil)
	require.ErrorIs(t, err, ErrConfiguration)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "columns.email", cfgErr.Field)

	failing := newGridStore()
	failing.readErr = errors.New("403 forbidden")
	_, _, err = LoadTargets(context.Background(), failing, "Sheet1", websiteColumns, URLOrigin, nil)
	require.ErrorContains(t, err, "403 forbidden")
	require.NotErrorIs(t, err, ErrConfiguration)
}

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("www.shop.test/contact?x=1", URLOrigin)
	require.NoError(t, err)
	require.Equal(t, "http://www.shop.test", got)

	got, err = NormalizeURL("HTTPS://shop.test/a", URLOrigin)
	require.NoError(t, err)
	require.Equal(t, "https://shop.test", got)

	got, err = NormalizeURL("m.facebook.com/acme/about", URLFull)
	require.NoError(t, err)
	require.Equal(t, "https://m.facebook.com/acme/about", got)

	_, err = NormalizeURL("  ", URLFull)
	require.Error(t, err)
	_, err = NormalizeURL("http://", URLOrigin)
	require.Error(t, err)
}
