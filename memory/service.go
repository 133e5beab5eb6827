package memory

import (
	"github.com/google/wire"

	es "github.com/harborview/eventsource-go"
)

var Provider = wire.NewSet(
	NewStore,
	wire.Bind(new(es.Store), new(*Store)),
)
