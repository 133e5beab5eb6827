package tasklist_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/memory"
	"github.com/harborview/eventsource-go/tasklist"
)

func TestBoardLifecycle(t *testing.T) {
	executor, err := tasklist.NewBoardExecutor(memory.NewStore())
	require.NoError(t, err)
	ctx := context.Background()

	board, err := tasklist.Submit(ctx, executor, "board-week-34", "board", tasklist.AddTask{Title: "water plants"})
	require.NoError(t, err)
	assert.Equal(t, []string{"water plants"}, board.State.Open)

	board, err = tasklist.Submit(ctx, executor, "board-week-34", "board", tasklist.AddTask{Title: "fix gutter"})
	require.NoError(t, err)

	board, err = tasklist.Submit(ctx, executor, "board-week-34", "board", tasklist.CompleteTask{Title: "water plants"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fix gutter"}, board.State.Open)
	assert.Equal(t, []string{"water plants"}, board.State.Completed)

	board, err = tasklist.Submit(ctx, executor, "board-week-34", "board", tasklist.RenameBoard{Name: "week 34"})
	require.NoError(t, err)
	assert.Equal(t, "week 34", board.State.Name)
	assert.EqualValues(t, 4, board.Version)
}

func TestRegistryCoversAggregateTypes(t *testing.T) {
	registry, err := tasklist.Registry()
	require.NoError(t, err)

	for _, name := range []es.TypeName{tasklist.BoardType, tasklist.StatsType} {
		_, err := registry.Resolve(name)
		assert.NoError(t, err, name.String())
	}
}

func TestBoardReloadsFromSnapshot(t *testing.T) {
	executor, err := tasklist.NewBoardExecutor(memory.NewStore())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = tasklist.Submit(ctx, executor, "board-1", "board", tasklist.AddTask{Title: "water plants"})
	require.NoError(t, err)

	// A fresh load must decode the snapshot the first save wrote.
	board, err := executor.Load(ctx, "board-1", "board")
	require.NoError(t, err)
	assert.EqualValues(t, 1, board.Version)
	assert.Equal(t, []string{"water plants"}, board.State.Open)
}

func TestCompletingUnknownTaskFails(t *testing.T) {
	executor, err := tasklist.NewBoardExecutor(memory.NewStore())
	require.NoError(t, err)

	_, err = tasklist.Submit(context.Background(), executor, "board-1", "board", tasklist.CompleteTask{Title: "ghost"})
	assert.Error(t, err)
}

func TestStatsIgnoreRenames(t *testing.T) {
	store := memory.NewStore()
	executor, err := tasklist.NewBoardExecutor(store)
	require.NoError(t, err)
	ctx := context.Background()

	registry, err := tasklist.Registry()
	require.NoError(t, err)
	streams := es.NewStreamService(store, registry)
	stats := es.NewAggregateService(streams, tasklist.StatsProjection())

	_, err = tasklist.Submit(ctx, executor, "board-1", "board", tasklist.AddTask{Title: "a"})
	require.NoError(t, err)
	_, err = tasklist.Submit(ctx, executor, "board-1", "board", tasklist.AddTask{Title: "b"})
	require.NoError(t, err)
	_, err = tasklist.Submit(ctx, executor, "board-1", "board", tasklist.CompleteTask{Title: "a"})
	require.NoError(t, err)
	_, err = tasklist.Submit(ctx, executor, "board-1", "board", tasklist.RenameBoard{Name: "chores"})
	require.NoError(t, err)

	tally, err := stats.GetAggregate(ctx, "board-1", "tally", es.SnapshotOrCreate)
	require.NoError(t, err)
	assert.Equal(t, 2, tally.State.Added)
	assert.Equal(t, 1, tally.State.Completed)
	assert.EqualValues(t, 3, tally.Version, "the rename is outside the stats filter")
	assert.EqualValues(t, 3, tally.LatestEventSequence)
}

func TestConcurrentSubmitsRetryPastConflicts(t *testing.T) {
	executor, err := tasklist.NewBoardExecutor(memory.NewStore())
	require.NoError(t, err)
	ctx := context.Background()

	const tasks = 8

	var wg sync.WaitGroup
	errs := make([]error, tasks)
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, errs[slot] = tasklist.Submit(ctx, executor, "board-1", "board",
				tasklist.AddTask{Title: fmt.Sprintf("task %d", slot)})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	board, err := executor.Load(ctx, "board-1", "board")
	require.NoError(t, err)
	assert.Len(t, board.State.Open, tasks)
	assert.EqualValues(t, tasks, board.Version)
}
