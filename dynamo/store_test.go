package dynamo_test

import (
	"context"
	"testing"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/dynamo"
)

func TestDynamoStoreValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store validation in short mode")
	}

	ctx := context.Background()
	store, teardown, err := dynamo.TestStore(ctx)
	if err != nil {
		t.Fatalf("failed to create test store: %+v", err)
	}
	defer teardown()

	suite := es.NewStoreValidationSuite(ctx, store)
	suite.Run(t)
}
