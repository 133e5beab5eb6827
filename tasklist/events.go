package tasklist

const (
	TaskAddedEvent     = "tasklist:task-added@1"
	TaskCompletedEvent = "tasklist:task-completed@1"
	BoardRenamedEvent  = "tasklist:board-renamed@1"
)

type TaskAdded struct {
	Title string `json:"title"`
}

func (TaskAdded) TypeName() string {
	return TaskAddedEvent
}

type TaskCompleted struct {
	Title string `json:"title"`
}

func (TaskCompleted) TypeName() string {
	return TaskCompletedEvent
}

type BoardRenamed struct {
	Name string `json:"name"`
}

func (BoardRenamed) TypeName() string {
	return BoardRenamedEvent
}
