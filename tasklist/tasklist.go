package tasklist

import (
	"context"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	es "github.com/harborview/eventsource-go"
)

const (
	BoardType = "tasklist:board@1"
	StatsType = "tasklist:stats@1"
)

// Board is the full task-board view: its name and the open and completed
// tasks on it.
type Board struct {
	Name      string
	Open      []string
	Completed []string
}

// Stats is a narrower view over the same stream. It ignores renames, so its
// version drifts from the board's even though both share every task event.
type Stats struct {
	Added     int
	Completed int
}

func Registry() (*es.TypeRegistry, error) {
	return es.NewRegistryBuilder().
		Register(TaskAddedEvent, TaskAdded{}).
		Register(TaskCompletedEvent, TaskCompleted{}).
		Register(BoardRenamedEvent, BoardRenamed{}).
		Register(BoardType, Board{}).
		Register(StatsType, Stats{}).
		Build()
}

func BoardProjection() es.Projection[Board] {
	return es.Projection[Board]{
		Name: BoardType,
		Reducers: es.Reducers[Board]{
			TaskAddedEvent: es.ReducerFunction[Board, TaskAdded](
				func(board *Board, evt *TaskAdded) error {
					board.Open = append(board.Open, evt.Title)
					return nil
				}),
			TaskCompletedEvent: es.ReducerFunction[Board, TaskCompleted](
				func(board *Board, evt *TaskCompleted) error {
					for i, title := range board.Open {
						if title == evt.Title {
							board.Open = append(board.Open[:i], board.Open[i+1:]...)
							board.Completed = append(board.Completed, title)
							return nil
						}
					}
					return errors.Errorf("completed unknown task %q", evt.Title)
				}),
			BoardRenamedEvent: es.ReducerFunction[Board, BoardRenamed](
				func(board *Board, evt *BoardRenamed) error {
					board.Name = evt.Name
					return nil
				}),
		},
	}
}

func StatsProjection() es.Projection[Stats] {
	return es.Projection[Stats]{
		Name: StatsType,
		Reducers: es.Reducers[Stats]{
			TaskAddedEvent: es.ReducerFunction[Stats, TaskAdded](
				func(stats *Stats, evt *TaskAdded) error {
					stats.Added++
					return nil
				}),
			TaskCompletedEvent: es.ReducerFunction[Stats, TaskCompleted](
				func(stats *Stats, evt *TaskCompleted) error {
					stats.Completed++
					return nil
				}),
		},
	}
}

func Handlers() es.CommandHandlers[Board] {
	return es.CommandHandlers[Board]{
		AddTaskCmd: es.CommandHandlerFunction[Board, AddTask](
			func(ctx context.Context, cmd AddTask, board *es.Aggregate[Board]) error {
				for _, title := range board.State.Open {
					if title == cmd.Title {
						return nil
					}
				}
				board.Raise(TaskAdded{Title: cmd.Title})
				return nil
			}),
		CompleteTaskCmd: es.CommandHandlerFunction[Board, CompleteTask](
			func(ctx context.Context, cmd CompleteTask, board *es.Aggregate[Board]) error {
				for _, title := range board.State.Open {
					if title == cmd.Title {
						board.Raise(TaskCompleted{Title: cmd.Title})
						return nil
					}
				}
				return errors.Errorf("task %q is not open", cmd.Title)
			}),
		RenameBoardCmd: es.CommandHandlerFunction[Board, RenameBoard](
			func(ctx context.Context, cmd RenameBoard, board *es.Aggregate[Board]) error {
				if cmd.Name == board.State.Name {
					return nil
				}
				board.Raise(BoardRenamed{Name: cmd.Name})
				return nil
			}),
	}
}

func NewBoardExecutor(store es.Store, options ...es.StreamOption) (*es.Executor[Board], error) {
	registry, err := Registry()
	if err != nil {
		return nil, err
	}

	streams := es.NewStreamService(store, registry, options...)
	service := es.NewAggregateService(streams, BoardProjection())

	return es.NewExecutor(service, Handlers()), nil
}

// Submit executes a command, retrying when a concurrent writer moved the
// stream between the read and the save. The engine never retries on its own.
func Submit(ctx context.Context, executor *es.Executor[Board], stream es.StreamID, id es.AggregateID, command es.Command) (*es.Aggregate[Board], error) {
	var board *es.Aggregate[Board]

	err := retry.Do(
		func() error {
			var err error
			board, err = executor.Execute(ctx, stream, id, command)
			return err
		},
		retry.RetryIf(es.IsSequenceConflict),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)

	return board, err
}
