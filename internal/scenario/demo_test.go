package scenario

import (
	"context"
	"testing"

	"github.com/torosent/crankworker/internal/runner"
)

func TestDemoTasks(t *testing.T) {
	tasks := Demo()
	if len(tasks) != 2 {
		t.Fatalf("got %d demo tasks, want 2", len(tasks))
	}
	rec := &memRecorder{}
	u := &runner.UserContext{Stats: rec}
	for _, task := range tasks {
		if err := task.Execute(context.Background(), u); err != nil {
			t.Fatalf("%s: Execute() error = %v", task.Name(), err)
		}
	}
	if len(rec.records) != 2 || rec.records[0].failed || !rec.records[1].failed {
		t.Fatalf("records = %+v, want a success then a failure", rec.records)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tasks[1].Execute(ctx, u); err == nil {
		t.Error("cancelled pause should return an error")
	}
}
