package store

import "testing"

func TestInsertDoneSignalRequiresNonEmptySummary(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.InsertDoneSignal(taskID, "sess-1", ""); err == nil {
		t.Errorf("expected empty summary to be rejected")
	}
	if err := db.InsertDoneSignal(taskID, "sess-1", "shipped"); err != nil {
		t.Fatalf("InsertDoneSignal failed: %v", err)
	}

	signals, err := db.GetTaskSignals(taskID)
	if err != nil {
		t.Fatalf("GetTaskSignals failed: %v", err)
	}
	if len(signals) != 1 || signals[0].Verb != "done" || signals[0].Summary != "shipped" {
		t.Fatalf("unexpected signals: %+v", signals)
	}
}

func TestInsertSignalsRequireExistingTask(t *testing.T) {
	db := setupTestDB(t)
	if err := db.InsertDoneSignal(999, "sess-1", "shipped"); err == nil {
		t.Errorf("expected signal on a nonexistent task to be rejected")
	}
}

func TestAllEightSignalVerbsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.InsertDoneSignal(taskID, "s1", "done summary"); err != nil {
		t.Fatalf("InsertDoneSignal: %v", err)
	}
	if err := db.InsertPartialSignal(taskID, "s1", "partial summary", "remaining work"); err != nil {
		t.Fatalf("InsertPartialSignal: %v", err)
	}
	if err := db.InsertStuckSignal(taskID, "s1", "blocked on credentials"); err != nil {
		t.Fatalf("InsertStuckSignal: %v", err)
	}
	if err := db.InsertAskSignal(AskSignalInput{TaskID: taskID, SessionID: "s1", Question: "which library?", Blocking: true, Options: []string{"a", "b"}, Preferred: "a"}); err != nil {
		t.Fatalf("InsertAskSignal: %v", err)
	}
	if err := db.InsertFlagSignal(FlagSignalInput{TaskID: taskID, SessionID: "s1", What: "n+1 query", Severity: "warning", Category: "performance"}); err != nil {
		t.Fatalf("InsertFlagSignal: %v", err)
	}
	if err := db.InsertLearnedSignal(LearnedSignalInput{TaskID: taskID, SessionID: "s1", Text: "use batched inserts", Kind: "pattern", Scope: "subsystem", Rationale: "perf"}); err != nil {
		t.Fatalf("InsertLearnedSignal: %v", err)
	}
	if err := db.InsertSuggestSignal(SuggestSignalInput{TaskID: taskID, SessionID: "s1", What: "add an index", Kind: "improvement", Why: "slow query"}); err != nil {
		t.Fatalf("InsertSuggestSignal: %v", err)
	}
	if err := db.InsertBlockedSignal(BlockedSignalInput{TaskID: taskID, SessionID: "s1", On: "task 1", Kind: "dependency", Detail: "waiting on schema"}); err != nil {
		t.Fatalf("InsertBlockedSignal: %v", err)
	}

	signals, err := db.GetTaskSignals(taskID)
	if err != nil {
		t.Fatalf("GetTaskSignals failed: %v", err)
	}
	if len(signals) != 8 {
		t.Fatalf("expected 8 signals, got %d: %+v", len(signals), signals)
	}

	ask := signals[3]
	if ask.Verb != "ask" || !ask.Blocking || len(ask.Options) != 2 || ask.Options[0] != "a" || ask.Options[1] != "b" {
		t.Errorf("unexpected ask signal: %+v", ask)
	}
}

func TestAnswerAskIsSingleShotAndAskOnly(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.InsertAskSignal(AskSignalInput{TaskID: taskID, SessionID: "s1", Question: "which library?", Blocking: true}); err != nil {
		t.Fatalf("InsertAskSignal: %v", err)
	}
	if err := db.InsertDoneSignal(taskID, "s1", "shipped"); err != nil {
		t.Fatalf("InsertDoneSignal: %v", err)
	}

	signals, err := db.GetTaskSignals(taskID)
	if err != nil {
		t.Fatalf("GetTaskSignals failed: %v", err)
	}
	var askID, doneID int64
	for _, s := range signals {
		switch s.Verb {
		case "ask":
			askID = s.ID
		case "done":
			doneID = s.ID
		}
	}

	if err := db.AnswerAsk(doneID, "use zod"); err == nil {
		t.Errorf("expected answering a non-ask signal to be rejected")
	}
	if err := db.AnswerAsk(askID, "use zod"); err != nil {
		t.Fatalf("AnswerAsk failed: %v", err)
	}

	signals, err = db.GetTaskSignals(taskID)
	if err != nil {
		t.Fatalf("GetTaskSignals failed: %v", err)
	}
	for _, s := range signals {
		if s.ID == askID && s.Answer != "use zod" {
			t.Errorf("expected ask signal to carry the answer, got %+v", s)
		}
	}
}

func TestGetSignalSummariesPendingAsksCountsOnlyUnansweredBlocking(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.InsertAskSignal(AskSignalInput{TaskID: taskID, SessionID: "s1", Question: "blocking one", Blocking: true}); err != nil {
		t.Fatalf("InsertAskSignal: %v", err)
	}
	if err := db.InsertAskSignal(AskSignalInput{TaskID: taskID, SessionID: "s1", Question: "non-blocking one", Blocking: false}); err != nil {
		t.Fatalf("InsertAskSignal: %v", err)
	}

	summaries, err := db.GetSignalSummaries([]int64{taskID})
	if err != nil {
		t.Fatalf("GetSignalSummaries failed: %v", err)
	}
	summary := summaries[taskID]
	if summary.PendingAsks != 1 {
		t.Fatalf("expected exactly 1 pending blocking ask, got %d", summary.PendingAsks)
	}

	// Answering the blocking ask drops the pending count to zero.
	signals, err := db.GetTaskSignals(taskID)
	if err != nil {
		t.Fatalf("GetTaskSignals failed: %v", err)
	}
	for _, s := range signals {
		if s.Verb == "ask" && s.Blocking {
			if err := db.AnswerAsk(s.ID, "answer"); err != nil {
				t.Fatalf("AnswerAsk failed: %v", err)
			}
		}
	}
	summaries, err = db.GetSignalSummaries([]int64{taskID})
	if err != nil {
		t.Fatalf("GetSignalSummaries failed: %v", err)
	}
	if summaries[taskID].PendingAsks != 0 {
		t.Errorf("expected 0 pending asks once answered, got %d", summaries[taskID].PendingAsks)
	}
}

func TestGetSignalSummariesMaxFlagSeverityAndRollups(t *testing.T) {
	db := setupTestDB(t)
	mustSeedSubsystemAndDiscipline(t, db, "auth", "implementation")
	taskID, _ := db.CreateTask(TaskInput{Subsystem: "auth", Discipline: "implementation", Title: "a"})

	if err := db.InsertFlagSignal(FlagSignalInput{TaskID: taskID, SessionID: "s1", What: "minor nit", Severity: "info", Category: "style"}); err != nil {
		t.Fatalf("InsertFlagSignal: %v", err)
	}
	if err := db.InsertFlagSignal(FlagSignalInput{TaskID: taskID, SessionID: "s2", What: "race condition", Severity: "blocking", Category: "correctness"}); err != nil {
		t.Fatalf("InsertFlagSignal: %v", err)
	}
	if err := db.InsertFlagSignal(FlagSignalInput{TaskID: taskID, SessionID: "s2", What: "slow query", Severity: "warning", Category: "performance"}); err != nil {
		t.Fatalf("InsertFlagSignal: %v", err)
	}
	if err := db.InsertLearnedSignal(LearnedSignalInput{TaskID: taskID, SessionID: "s2", Text: "batch writes"}); err != nil {
		t.Fatalf("InsertLearnedSignal: %v", err)
	}
	if err := db.InsertPartialSignal(taskID, "s2", "half done", "finish validation"); err != nil {
		t.Fatalf("InsertPartialSignal: %v", err)
	}

	summaries, err := db.GetSignalSummaries([]int64{taskID})
	if err != nil {
		t.Fatalf("GetSignalSummaries failed: %v", err)
	}
	summary := summaries[taskID]
	if summary.FlagCount != 3 {
		t.Errorf("expected 3 flags, got %d", summary.FlagCount)
	}
	if summary.MaxFlagSeverity != "blocking" {
		t.Errorf("expected max severity blocking, got %q", summary.MaxFlagSeverity)
	}
	if summary.LearnedCount != 1 {
		t.Errorf("expected 1 learned signal, got %d", summary.LearnedCount)
	}
	if summary.LastClosingVerb != "partial" {
		t.Errorf("expected last closing verb partial, got %q", summary.LastClosingVerb)
	}
	if summary.SessionCount != 2 {
		t.Errorf("expected 2 distinct sessions, got %d", summary.SessionCount)
	}
}

func TestGetSignalSummariesEmptyInput(t *testing.T) {
	db := setupTestDB(t)
	summaries, err := db.GetSignalSummaries(nil)
	if err != nil {
		t.Fatalf("GetSignalSummaries(nil) failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected empty map, got %+v", summaries)
	}
}
