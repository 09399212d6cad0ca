package harvest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	title  string
	values [][]string
	calls  int
}

func (a *fakeAdmin) ReplaceSheet(_ context.Context, title string, values [][]string) error {
	a.calls++
	a.title = title
	a.values = values
	return nil
}

func TestFilterRowsKeepsHeaderAndEmailRows(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"Name", "Business Email", "Phone"},
		{"A", "a@x.com"},
		{"B", "  "},
		{"C", "c@y.org", "555"},
		{"D"},
	}
	got := FilterRows(rows, 1)
	require.Equal(t, [][]string{
		{"Name", "Business Email", "Phone"},
		{"A", "a@x.com", ""},
		{"C", "c@y.org", "555"},
	}, got)
	require.Nil(t, FilterRows(nil, 0))
}

func TestRunFilterReplacesSheet(t *testing.T) {
	t.Parallel()

	store := newGridStore(
		[]string{"Name", "Business Email"},
		[]string{"A", "a@x.com"},
		[]string{"B", ""},
	)
	admin := &fakeAdmin{}
	summary, err := RunFilter(context.Background(), store, admin, FilterConfig{
		SourceRange: "Sheet1!A1:Z9999",
		EmailColumn: "business email",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, FilterSummary{Scanned: 2, Copied: 1}, summary)
	require.Equal(t, DefaultFilterSheet, admin.title)
	require.Equal(t, [][]string{{"Name", "Business Email"}, {"A", "a@x.com"}}, admin.values)
}

func TestRunFilterConfigurationErrors(t *testing.T) {
	t.Parallel()

	store := newGridStore([]string{"Name"})
	_, err := RunFilter(context.Background(), store, nil, FilterConfig{SourceRange: "Sheet1"}, nil)
	require.ErrorIs(t, err, ErrConfiguration)

	admin := &fakeAdmin{}
	_, err = RunFilter(context.Background(), store, admin, FilterConfig{SourceRange: "Sheet1", EmailColumn: "Business Email"}, nil)
	require.ErrorIs(t, err, ErrConfiguration)
	require.Zero(t, admin.calls)
}
