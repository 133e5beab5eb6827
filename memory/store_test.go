package memory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/memory"
)

func TestMemoryStoreValidation(t *testing.T) {
	suite := es.NewStoreValidationSuite(context.Background(), memory.NewStore())
	suite.Run(t)
}

func TestConcurrentWritersSerializeOnExpectedSequence(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	suite := es.NewStoreValidationSuite(ctx, store)
	stream := suite.MakeStream()

	const writers = 16

	attempts := make([][]es.RecordedEvent, writers)
	for i := range attempts {
		attempts[i] = suite.MakeEvents(stream, 0, 1, "validation:created")
	}

	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			results[slot] = store.Commit(ctx, es.Commit{
				StreamID:         stream,
				ExpectedSequence: 0,
				Events:           attempts[slot],
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, es.IsSequenceConflict(err))
		}
	}
	assert.Equal(t, 1, winners, "exactly one writer wins the race")

	events, err := store.GetEvents(ctx, stream, es.QueryAll())
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
