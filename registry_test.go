package es_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	es "github.com/harborview/eventsource-go"
)

func TestRegistryResolvesRegisteredNames(t *testing.T) {
	registry := newRegistry()

	resolved, err := registry.Resolve(es.TypeName(ThingCreatedEvent))
	require.NoError(t, err)
	assert.Equal(t, "ThingCreated", resolved.Name())

	value, err := registry.New(es.TypeName(ThingCreatedEvent))
	require.NoError(t, err)
	_, ok := value.(*ThingCreated)
	assert.True(t, ok)
}

func TestRegistryNamesValues(t *testing.T) {
	registry := newRegistry()

	name, err := registry.NameOf(ThingRenamed{Name: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, ThingRenamedEvent, name)

	name, err = registry.NameOf(&ThingRenamed{Name: "x"})
	require.NoError(t, err)
	assert.EqualValues(t, ThingRenamedEvent, name, "pointers resolve to their element type")
}

func TestRegistryReportsUnknownEntries(t *testing.T) {
	registry := newRegistry()

	_, err := registry.Resolve("things:never-registered@1")
	var resolution *es.TypeResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.EqualValues(t, "things:never-registered@1", resolution.Name)

	type Unknown struct{}
	_, err = registry.NameOf(Unknown{})
	assert.ErrorAs(t, err, &resolution)
}

func TestRegistrySupportsTypeVersioning(t *testing.T) {
	type RenamedV2 struct {
		Name   string `json:"name"`
		Reason string `json:"reason"`
	}

	registry, err := es.NewRegistryBuilder().
		Register("things:thing-renamed@1", ThingRenamed{}).
		Register("things:thing-renamed@2", RenamedV2{}).
		Build()
	require.NoError(t, err)

	v1, err := registry.Resolve("things:thing-renamed@1")
	require.NoError(t, err)
	v2, err := registry.Resolve("things:thing-renamed@2")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestDefaultNameDerivation(t *testing.T) {
	assert.Equal(t, "es-test:thing-created", es.NameOf(ThingCreated{}))
	assert.Equal(t, "es-test:thing-created", es.NameOf(&ThingCreated{}))
}
