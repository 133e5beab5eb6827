package es

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

type CommandName string
type Command any

func CommandNameOf(command Command) CommandName {
	return CommandName(NameOf(command))
}

// CommandHandler mutates and raises events on the aggregate; persistence is
// the executor's job.
type CommandHandler[T any] interface {
	HandleCommand(ctx context.Context, cmd Command, aggregate *Aggregate[T]) error
}

type CommandHandlerFunction[T any, C any] func(ctx context.Context, cmd C, aggregate *Aggregate[T]) error

func (f CommandHandlerFunction[T, C]) HandleCommand(ctx context.Context, cmd Command, aggregate *Aggregate[T]) error {
	command, ok := cmd.(C)
	if !ok {
		return UnexpectedCommand(cmd)
	}

	return f(ctx, command, aggregate)
}

type CommandHandlers[T any] map[CommandName]CommandHandler[T]

type CommandNotFoundError struct {
	Command CommandName
}

func (e CommandNotFoundError) Error() string {
	return fmt.Sprintf("unknown command: %s", e.Command)
}

func CommandNotFound(command CommandName) CommandNotFoundError {
	return CommandNotFoundError{Command: command}
}

func UnexpectedCommand(command Command) error {
	return errors.Errorf("unexpected command %s", CommandNameOf(command))
}

// Executor is a type-keyed command dispatcher: it reconciles the aggregate,
// routes the command to its handler, and saves whatever the handler raised
// with the reconciled position as the expected sequence.
type Executor[T any] struct {
	service  *AggregateService[T]
	handlers CommandHandlers[T]
}

func NewExecutor[T any](service *AggregateService[T], handlers CommandHandlers[T]) *Executor[T] {
	return &Executor[T]{
		service:  service,
		handlers: handlers,
	}
}

func (e *Executor[T]) Load(ctx context.Context, stream StreamID, id AggregateID) (*Aggregate[T], error) {
	return e.service.GetAggregate(ctx, stream, id, SnapshotWithNewEventsOrCreate)
}

func (e *Executor[T]) Execute(ctx context.Context, stream StreamID, id AggregateID, command Command) (*Aggregate[T], error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, fmt.Sprintf("dispatch %s", CommandNameOf(command)))
	defer span.End()

	name := CommandNameOf(command)
	handler := e.handlers[name]
	if handler == nil {
		return nil, CommandNotFound(name)
	}

	aggregate, err := e.Load(ctx, stream, id)
	if errors.Is(err, AggregateNotFound) {
		aggregate = NewAggregate[T](stream, id)
	} else if err != nil {
		return nil, err
	}

	if err := handler.HandleCommand(ctx, command, aggregate); err != nil {
		return aggregate, err
	}

	if len(aggregate.UncommittedEvents()) == 0 {
		return aggregate, nil
	}

	// The aggregate's position tracks filter-matching events only; the save
	// precondition is the stream's unfiltered head.
	expected, err := e.service.streams.GetLatestEventSequence(ctx, stream)
	if err != nil {
		return nil, err
	}

	return e.service.SaveAggregate(ctx, aggregate, expected)
}
