package store

import "testing"

func TestCreateTaskAssignsMonotonicIDs(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	id1, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "task one"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	id2, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "task two"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if id2 != id1+1 {
		t.Errorf("expected monotonic ids, got %d then %d", id1, id2)
	}

	got, err := db.GetTask(id1)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected new task to be pending, got %q", got.Status)
	}
	if got.InferredStatus != InferredReady {
		t.Errorf("expected a dependency-free pending task to infer ready, got %q", got.InferredStatus)
	}
}

func TestCreateTaskRejectsUnknownSubsystemDisciplineOrDependency(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	if _, err := db.CreateTask(TaskInput{Subsystem: "ghost", Discipline: "implementation", Title: "t"}); err == nil {
		t.Errorf("expected unknown subsystem to be rejected")
	}
	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "ghost", Title: "t"}); err == nil {
		t.Errorf("expected unknown discipline to be rejected")
	}
	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "t", DependsOn: []int64{999}}); err == nil {
		t.Errorf("expected unknown dependency to be rejected")
	}
}

func TestUpdateTaskRejectsSelfDependencyAndCycles(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	a, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})
	b, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "b"})

	if err := db.UpdateTask(a, TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a", DependsOn: []int64{a}}); err == nil {
		t.Errorf("expected self-dependency to be rejected")
	}

	// b depends on a; making a depend on b would create a cycle.
	if err := db.UpdateTask(b, TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "b", DependsOn: []int64{a}}); err != nil {
		t.Fatalf("UpdateTask(b depends on a) failed: %v", err)
	}
	if err := db.UpdateTask(a, TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a", DependsOn: []int64{b}}); err == nil {
		t.Errorf("expected circular dependency to be rejected")
	}
}

func TestSetTaskStatusStampsCompletedOnEveryDoneTransition(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	id, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.SetTaskStatus(id, StatusDone, ""); err != nil {
		t.Fatalf("SetTaskStatus(done) failed: %v", err)
	}
	first, err := db.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if first.Completed == "" {
		t.Fatalf("expected completed to be stamped on first done transition")
	}

	if err := db.SetTaskStatus(id, StatusDone, ""); err != nil {
		t.Fatalf("second SetTaskStatus(done) failed: %v", err)
	}
	second, err := db.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if second.Completed == "" {
		t.Fatalf("expected completed to remain stamped on re-transition to done")
	}
}

func TestSetTaskStatusBlockedAllowsEmptyBlockedBy(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	id, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.SetTaskStatus(id, StatusBlocked, ""); err != nil {
		t.Fatalf("expected blocked without blocked_by to be allowed, got %v", err)
	}
	got, err := db.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != StatusBlocked {
		t.Errorf("expected status blocked, got %q", got.Status)
	}
	if got.InferredStatus != InferredExternallyBlocked {
		t.Errorf("expected inferred status externally_blocked, got %q", got.InferredStatus)
	}
}

func TestInferredStatusWaitingOnDepsUntilDependencyDone(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	dep, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "dep"})
	id, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "blocked-on-dep", DependsOn: []int64{dep}})

	got, err := db.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.InferredStatus != InferredWaitingOnDeps {
		t.Errorf("expected waiting_on_deps, got %q", got.InferredStatus)
	}

	if err := db.SetTaskStatus(dep, StatusDone, ""); err != nil {
		t.Fatalf("SetTaskStatus(dep, done) failed: %v", err)
	}
	got, err = db.GetTask(id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.InferredStatus != InferredReady {
		t.Errorf("expected ready once dependency is done, got %q", got.InferredStatus)
	}
}

func TestDeleteTaskRefusedWhileDependedOn(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	dep, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "dep"})
	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "dependent", DependsOn: []int64{dep}}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	if err := db.DeleteTask(dep); err == nil {
		t.Errorf("expected delete to be refused while another task depends on it")
	}
}

func TestGetTasksPreJoinsDisplayFields(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	tasks, err := db.GetTasks()
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].SubsystemDisplayName != "auth" || tasks[0].DisciplineDisplayName != "implementation" {
		t.Errorf("expected display names joined in, got %+v", tasks[0])
	}
}
