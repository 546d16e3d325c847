package store

import (
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetSubsystem(t *testing.T) {
	db := setupTestDB(t)

	s, err := db.CreateSubsystem(SubsystemInput{Name: "auth", DisplayName: "Auth", Acronym: "AUTH", Description: "login flow"})
	if err != nil {
		t.Fatalf("CreateSubsystem failed: %v", err)
	}
	if s.Status != "active" {
		t.Errorf("expected status active, got %q", s.Status)
	}

	got, err := db.GetSubsystem("auth")
	if err != nil {
		t.Fatalf("GetSubsystem failed: %v", err)
	}
	if got.DisplayName != "Auth" || got.Acronym != "AUTH" {
		t.Errorf("unexpected subsystem: %+v", got)
	}
	if len(got.Learnings) != 0 || len(got.ContextFiles) != 0 {
		t.Errorf("expected empty learnings/context_files on create, got %+v", got)
	}
}

func TestCreateSubsystemRejectsBadAcronym(t *testing.T) {
	db := setupTestDB(t)

	cases := []string{"", "AB", "ABCDEF", "abc"}
	for _, acronym := range cases {
		if _, err := db.CreateSubsystem(SubsystemInput{Name: "x", DisplayName: "X", Acronym: acronym}); err == nil {
			t.Errorf("expected error for acronym %q", acronym)
		}
	}
}

func TestCreateSubsystemRejectsDuplicateNameAndAcronym(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.CreateSubsystem(SubsystemInput{Name: "auth", DisplayName: "Auth", Acronym: "AUTH"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := db.CreateSubsystem(SubsystemInput{Name: "auth", DisplayName: "Auth2", Acronym: "AUT2"}); err == nil {
		t.Errorf("expected duplicate name to be rejected")
	}
	if _, err := db.CreateSubsystem(SubsystemInput{Name: "auth2", DisplayName: "Auth2", Acronym: "AUTH"}); err == nil {
		t.Errorf("expected duplicate acronym to be rejected")
	}
}

func TestDeleteSubsystemRefusedWhileTaskReferencesIt(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "wire login"}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := db.DeleteSubsystem("auth"); err == nil {
		t.Errorf("expected delete to be refused while a task references the subsystem")
	}
}

func TestAddSubsystemContextFileIsIdempotentAndCapped(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	added, err := db.AddSubsystemContextFile("auth", "src/auth.ts", 2)
	if err != nil || !added {
		t.Fatalf("expected first add to succeed, got added=%v err=%v", added, err)
	}
	added, err = db.AddSubsystemContextFile("auth", "src/auth.ts", 2)
	if err != nil || added {
		t.Fatalf("expected re-add to be a no-op, got added=%v err=%v", added, err)
	}
	if _, err := db.AddSubsystemContextFile("auth", "src/session.ts", 2); err != nil {
		t.Fatalf("expected second distinct file to succeed: %v", err)
	}
	if _, err := db.AddSubsystemContextFile("auth", "src/third.ts", 2); err == nil {
		t.Errorf("expected add past maxFiles to be rejected")
	}
}

func TestAddSubsystemContextFileRejectsAbsoluteAndTraversalPaths(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	for _, path := range []string{"/etc/passwd", "../secrets.env"} {
		if _, err := db.AddSubsystemContextFile("auth", path, 10); err == nil {
			t.Errorf("expected %q to be rejected", path)
		}
	}
}

func TestCreateAndGetDiscipline(t *testing.T) {
	db := setupTestDB(t)

	disc, err := db.CreateDiscipline(DisciplineInput{Name: "implementation", DisplayName: "Implementation", Acronym: "IMPL"})
	if err != nil {
		t.Fatalf("CreateDiscipline failed: %v", err)
	}
	if disc.Icon != "Circle" || disc.Color != "#94a3b8" {
		t.Errorf("expected default icon/color, got %+v", disc)
	}

	got, err := db.GetDiscipline("implementation")
	if err != nil {
		t.Fatalf("GetDiscipline failed: %v", err)
	}
	if got.DisplayName != "Implementation" {
		t.Errorf("unexpected discipline: %+v", got)
	}
}

func TestDeleteDisciplineRefusedWhileTaskUsesIt(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")

	if _, err := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "wire login"}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := db.DeleteDiscipline("implementation"); err == nil {
		t.Errorf("expected delete to be refused while a task uses the discipline")
	}
}

func TestSeedDisciplinesPresetsAreIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SeedDisciplines(1); err != nil {
		t.Fatalf("SeedDisciplines(1) failed: %v", err)
	}
	discs, err := db.GetDisciplines()
	if err != nil {
		t.Fatalf("GetDisciplines failed: %v", err)
	}
	if len(discs) != len(genericDisciplinePreset) {
		t.Fatalf("expected %d seeded disciplines, got %d", len(genericDisciplinePreset), len(discs))
	}

	// Seeding again must not overwrite or duplicate.
	if err := db.SeedDisciplines(1); err != nil {
		t.Fatalf("second SeedDisciplines(1) failed: %v", err)
	}
	discs, err = db.GetDisciplines()
	if err != nil {
		t.Fatalf("GetDisciplines failed: %v", err)
	}
	if len(discs) != len(genericDisciplinePreset) {
		t.Fatalf("expected seeding to stay idempotent, got %d disciplines", len(discs))
	}
}

func TestSeedDisciplinesRejectsUnknownStack(t *testing.T) {
	db := setupTestDB(t)
	if err := db.SeedDisciplines(99); err == nil {
		t.Errorf("expected unsupported stack preset to error")
	}
}

// mustSeedSubsystemAndDiscipline creates the minimal subsystem/discipline
// pair most task/comment/signal tests depend on.
func mustSeedSubsystemAndDiscipline(t *testing.T, db *DB, subsystem, discipline string) {
	t.Helper()
	if _, err := db.CreateSubsystem(SubsystemInput{Name: subsystem, DisplayName: subsystem, Acronym: "SUBA"}); err != nil {
		t.Fatalf("seed subsystem failed: %v", err)
	}
	if _, err := db.CreateDiscipline(DisciplineInput{Name: discipline, DisplayName: discipline, Acronym: "DISA"}); err != nil {
		t.Fatalf("seed discipline failed: %v", err)
	}
}
