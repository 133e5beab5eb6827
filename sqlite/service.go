package sqlite

import (
	"context"

	"github.com/google/wire"

	es "github.com/harborview/eventsource-go"
	"github.com/harborview/eventsource-go/support"
)

var Live = wire.NewSet(
	LiveStore,
	wire.Bind(new(es.Store), new(*Store)),
)

func LiveStore(ctx context.Context) (*Store, error) {
	cfg, err := support.LoadSQLiteConfig()
	if err != nil {
		return nil, err
	}

	return Open(ctx, cfg.DSN)
}
