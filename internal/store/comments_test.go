package store

import "testing"

func TestAddCommentAndGetCommentsForTask(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	id, err := db.AddComment(taskID, "implementation", "looks good", nil)
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}

	comments, err := db.GetCommentsForTask(taskID)
	if err != nil {
		t.Fatalf("GetCommentsForTask failed: %v", err)
	}
	if len(comments) != 1 || comments[0].ID != id || comments[0].Body != "looks good" {
		t.Fatalf("unexpected comments: %+v", comments)
	}
}

func TestAddCommentRejectsEmptyBody(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if _, err := db.AddComment(taskID, "implementation", "   ", nil); err == nil {
		t.Errorf("expected empty comment body to be rejected")
	}
}

func TestReplyNestingRejectsReplyToAReply(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	root, err := db.AddComment(taskID, "implementation", "root comment", nil)
	if err != nil {
		t.Fatalf("AddComment(root) failed: %v", err)
	}
	reply, err := db.AddComment(taskID, "", "a reply", &root)
	if err != nil {
		t.Fatalf("AddComment(reply) failed: %v", err)
	}

	if _, err := db.AddComment(taskID, "", "reply to a reply", &reply); err == nil {
		t.Errorf("expected replying to a reply to be rejected")
	}
}

func TestUpdateAndDeleteComment(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})
	id, _ := db.AddComment(taskID, "implementation", "first draft", nil)

	if err := db.UpdateComment(taskID, id, "revised text"); err != nil {
		t.Fatalf("UpdateComment failed: %v", err)
	}
	comments, _ := db.GetCommentsForTask(taskID)
	if comments[0].Body != "revised text" {
		t.Errorf("expected updated body, got %q", comments[0].Body)
	}

	if err := db.DeleteComment(taskID, id); err != nil {
		t.Fatalf("DeleteComment failed: %v", err)
	}
	comments, _ = db.GetCommentsForTask(taskID)
	if len(comments) != 0 {
		t.Errorf("expected comment to be gone after delete, got %+v", comments)
	}
}

func TestAddSubsystemCommentAndEmbeddingText(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	id, err := db.AddSubsystemComment(SubsystemComment{Subsystem: "auth", Category: "architecture", Body: "uses JWTs", Reason: "stateless"})
	if err != nil {
		t.Fatalf("AddSubsystemComment failed: %v", err)
	}

	got, err := db.GetSubsystemComment(id)
	if err != nil {
		t.Fatalf("GetSubsystemComment failed: %v", err)
	}
	want := "architecture\nuses JWTs\nstateless"
	if got.EmbeddingText() != want {
		t.Errorf("EmbeddingText() = %q, want %q", got.EmbeddingText(), want)
	}
}

func TestUpdateSubsystemCommentStampsUpdated(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	id, _ := db.AddSubsystemComment(SubsystemComment{Subsystem: "auth", Category: "architecture", Body: "v1"})

	if err := db.UpdateSubsystemComment(id, "v2", "", ""); err != nil {
		t.Fatalf("UpdateSubsystemComment failed: %v", err)
	}
	got, err := db.GetSubsystemComment(id)
	if err != nil {
		t.Fatalf("GetSubsystemComment failed: %v", err)
	}
	if got.Body != "v2" || got.Updated == "" {
		t.Errorf("expected body updated and updated timestamp stamped, got %+v", got)
	}
}

func TestDeleteSubsystemCommentOnNonexistentIDErrors(t *testing.T) {
	db := setupTestDB(t)
	if err := db.DeleteSubsystemComment(999); err == nil {
		t.Errorf("expected deleting a nonexistent subsystem comment to error")
	}
}
