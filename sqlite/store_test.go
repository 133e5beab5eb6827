package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/sqlite"
)

func testStore(t *testing.T) *sqlite.Store {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "events.db") + "?_pragma=busy_timeout(5000)"
	store, err := sqlite.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSQLiteStoreValidation(t *testing.T) {
	suite := es.NewStoreValidationSuite(context.Background(), testStore(t))
	suite.Run(t)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "events.db") + "?_pragma=busy_timeout(5000)"

	store, err := sqlite.Open(ctx, dsn)
	require.NoError(t, err)

	suite := es.NewStoreValidationSuite(ctx, store)
	stream := suite.MakeStream()
	events := suite.MakeEvents(stream, 0, 3, "validation:created")
	require.NoError(t, store.Commit(ctx, es.Commit{
		StreamID:         stream,
		ExpectedSequence: 0,
		Events:           events,
	}))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(ctx, dsn)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.GetLatestSequence(ctx, stream, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, latest)
}
