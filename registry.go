package es

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
)

// TypeName is the stable textual name of a registered event or aggregate
// type. Names may carry an "@N" version suffix; two versions of the same
// business type register under distinct names.
type TypeName string

func (n TypeName) String() string {
	return string(n)
}

// Named lets a type choose its own registered name.
type Named interface {
	TypeName() string
}

// NameOf derives the default name for a value: the package namespace and the
// kebab-cased type name, joined with a colon.
func NameOf(value any) string {
	if typed, ok := value.(Named); ok {
		return typed.TypeName()
	}

	split := strings.Split(reflect.TypeOf(value).String(), ".")
	segments := make([]string, len(split))
	for i, segment := range split {
		s := strings.TrimLeft(segment, "*")
		segments[i] = strcase.ToKebab(s)
	}

	namespace := segments[0]
	name := strings.Join(segments[1:], "-")

	return namespace + ":" + name
}

type TypeResolutionError struct {
	Name        TypeName
	RuntimeType string
}

func (e *TypeResolutionError) Error() string {
	if len(e.Name) > 0 {
		return fmt.Sprintf("no type registered for name %s", e.Name)
	}
	return fmt.Sprintf("no name registered for type %s", e.RuntimeType)
}

// TypeRegistry resolves names to runtime types and back. It is constructed
// once, is immutable afterwards, and is passed explicitly to every component
// that needs resolution; there is no ambient global.
type TypeRegistry struct {
	byName map[TypeName]reflect.Type
	byType map[reflect.Type]TypeName
}

// Resolve returns the runtime type registered under name.
func (r *TypeRegistry) Resolve(name TypeName) (reflect.Type, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, &TypeResolutionError{Name: name}
	}

	return t, nil
}

// NameOf returns the registered name for the value's runtime type. When a
// type is registered under several names the earliest registration wins.
func (r *TypeRegistry) NameOf(value any) (TypeName, error) {
	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	name, ok := r.byType[t]
	if !ok {
		return "", &TypeResolutionError{RuntimeType: t.String()}
	}

	return name, nil
}

// New returns a pointer to a zero value of the type registered under name.
func (r *TypeRegistry) New(name TypeName) (any, error) {
	t, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	return reflect.New(t).Interface(), nil
}

type RegistryBuilder struct {
	entries    map[TypeName]reflect.Type
	order      []TypeName
	duplicates []TypeName
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{entries: make(map[TypeName]reflect.Type)}
}

// Register binds name to the prototype's runtime type. Registering the same
// name twice is a configuration defect and fails at Build.
func (b *RegistryBuilder) Register(name TypeName, prototype any) *RegistryBuilder {
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if _, exists := b.entries[name]; exists {
		b.duplicates = append(b.duplicates, name)
		return b
	}

	b.order = append(b.order, name)
	b.entries[name] = t

	return b
}

// RegisterDefault binds the prototype under its derived default name.
func (b *RegistryBuilder) RegisterDefault(prototype any) *RegistryBuilder {
	return b.Register(TypeName(NameOf(prototype)), prototype)
}

func (b *RegistryBuilder) Build() (*TypeRegistry, error) {
	if len(b.duplicates) > 0 {
		return nil, fmt.Errorf("duplicate type registrations: %v", b.duplicates)
	}

	registry := &TypeRegistry{
		byName: make(map[TypeName]reflect.Type, len(b.entries)),
		byType: make(map[reflect.Type]TypeName, len(b.entries)),
	}

	for _, name := range b.order {
		t := b.entries[name]
		registry.byName[name] = t
		if _, taken := registry.byType[t]; !taken {
			registry.byType[t] = name
		}
	}

	return registry, nil
}
