package tasklist

const (
	AddTaskCmd      = "tasklist:add-task"
	CompleteTaskCmd = "tasklist:complete-task"
	RenameBoardCmd  = "tasklist:rename-board"
)

type AddTask struct {
	Title string `json:"title"`
}

func (AddTask) TypeName() string {
	return AddTaskCmd
}

type CompleteTask struct {
	Title string `json:"title"`
}

func (CompleteTask) TypeName() string {
	return CompleteTaskCmd
}

type RenameBoard struct {
	Name string `json:"name"`
}

func (RenameBoard) TypeName() string {
	return RenameBoardCmd
}
