package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
	"github.com/JakeFAU/contact-harvester/internal/storage/memory"
)

func TestDumpWritesJSONUnderRunPrefix(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	d := New(blobs, nil, WithClock(func() time.Time { return fixed }))

	uri, err := d.Dump(context.Background(), "run-42", []harvest.ValueRange{
		{Range: "Sheet1!C2", Values: [][]string{{"a@x.com"}}},
		{Range: "Sheet1!D3", Values: [][]string{{"https://facebook.com/acme"}}},
	}, errors.New("quota exceeded"))
	require.NoError(t, err)
	require.Equal(t, "memory://recovery/run-42/20260304T050607.000000000Z.json", uri)

	raw, ok := blobs.Object("recovery/run-42/20260304T050607.000000000Z.json")
	require.True(t, ok)
	var doc Dump
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, "run-42", doc.RunID)
	require.Equal(t, "quota exceeded", doc.Cause)
	require.Equal(t, []Cell{
		{Range: "Sheet1!C2", Value: "a@x.com"},
		{Range: "Sheet1!D3", Value: "https://facebook.com/acme"},
	}, doc.Cells)
}

func TestDumpCustomPrefixAndUnknownRun(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	d := New(blobs, nil, WithPrefix("dead-letter"))
	_, err := d.Dump(context.Background(), "", nil, nil)
	require.NoError(t, err)

	paths := blobs.Paths()
	require.Len(t, paths, 1)
	require.Regexp(t, `^dead-letter/unknown/\d{8}T\d{6}\.\d{9}Z\.json$`, paths[0])
}
