package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/studycircle/studycircle/internal/fault"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testProfile(id string) Profile {
	return Profile{
		UserID:           id,
		FirstName:        "Test",
		LastName:         "User",
		University:       "MIT",
		Major:            "Computer Science",
		Year:             2,
		Bio:              "studying distributed systems",
		Interests:        []string{"databases", "golang"},
		Skills:           []string{"sql"},
		StudyGoals:       []string{"pass algorithms"},
		StudyTimes:       []string{"evening"},
		Languages:        []string{"en"},
		SubscriptionTier: "free",
		Status:           "active",
		Public:           true,
	}
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := openTestStore(t)

	p := testProfile("alice")
	gpa := 3.7
	p.GPA = &gpa
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	got, err := s.GetProfile("alice")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.University != "MIT" || got.Major != "Computer Science" {
		t.Errorf("unexpected profile: %+v", got)
	}
	if got.GPA == nil || *got.GPA != 3.7 {
		t.Errorf("GPA = %v, want 3.7", got.GPA)
	}
	if len(got.Interests) != 2 || got.Interests[0] != "databases" {
		t.Errorf("Interests = %v", got.Interests)
	}
	if got.LastActive.IsZero() || got.CreatedAt.IsZero() {
		t.Error("timestamps not defaulted")
	}
}

func TestProfileUpsertOverwrites(t *testing.T) {
	s := openTestStore(t)

	p := testProfile("alice")
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	p.Major = "Mathematics"
	p.Interests = []string{"topology"}
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("second UpsertProfile: %v", err)
	}

	got, err := s.GetProfile("alice")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if got.Major != "Mathematics" {
		t.Errorf("Major = %q, want Mathematics", got.Major)
	}
	if len(got.Interests) != 1 || got.Interests[0] != "topology" {
		t.Errorf("Interests = %v, want [topology]", got.Interests)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetProfile("ghost")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListEligibleCandidates(t *testing.T) {
	s := openTestStore(t)

	viewer := testProfile("viewer")
	if err := s.UpsertProfile(viewer); err != nil {
		t.Fatal(err)
	}

	active := testProfile("active-user")
	private := testProfile("private-user")
	private.Public = false
	suspended := testProfile("suspended-user")
	suspended.Status = "suspended"
	for _, p := range []Profile{active, private, suspended} {
		if err := s.UpsertProfile(p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListEligibleCandidates("viewer")
	if err != nil {
		t.Fatalf("ListEligibleCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1 (only active public non-self)", len(got))
	}
	if got[0].UserID != "active-user" {
		t.Errorf("candidate = %q, want active-user", got[0].UserID)
	}
}

func TestExclusions(t *testing.T) {
	s := openTestStore(t)

	// alice decided on bob and carol; dave liked alice; eve passed on alice.
	if err := s.SaveDecision("alice", "bob", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDecision("alice", "carol", false); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDecision("dave", "alice", true); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDecision("eve", "alice", false); err != nil {
		t.Fatal(err)
	}

	excluded, err := s.ListExclusions("alice")
	if err != nil {
		t.Fatalf("ListExclusions: %v", err)
	}

	for _, want := range []string{"bob", "carol", "dave"} {
		if _, ok := excluded[want]; !ok {
			t.Errorf("expected %s in exclusion set", want)
		}
	}
	if _, ok := excluded["eve"]; ok {
		t.Error("eve passed on alice; a pass in that direction must not exclude")
	}
}

func TestSaveDecisionOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveDecision("alice", "bob", false); err != nil {
		t.Fatal(err)
	}
	// Changing a pass to a like must overwrite, not duplicate.
	if err := s.SaveDecision("alice", "bob", true); err != nil {
		t.Fatal(err)
	}

	var count, liked int
	if err := s.db.QueryRow(`SELECT COUNT(*), MAX(liked) FROM decisions WHERE actor_id = 'alice'`).Scan(&count, &liked); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("decision rows = %d, want 1", count)
	}
	if liked != 1 {
		t.Error("decision not overwritten to liked")
	}
}

func TestThreadLifecycle(t *testing.T) {
	s := openTestStore(t)

	th := Thread{ID: "t1", OwnerID: "alice", Title: "Study plan"}
	if err := s.CreateThread(th); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	got, err := s.GetThread("t1")
	if err != nil {
		t.Fatalf("GetThread: %v", err)
	}
	if !got.IsActive {
		t.Error("new thread should be active")
	}

	if err := s.SetThreadInactive("t1"); err != nil {
		t.Fatalf("SetThreadInactive: %v", err)
	}

	// Soft-deleted: still fetchable by id, but absent from the listing.
	got, err = s.GetThread("t1")
	if err != nil {
		t.Fatalf("GetThread after delete: %v", err)
	}
	if got.IsActive {
		t.Error("thread should be inactive")
	}

	list, err := s.ListThreads("alice", 10)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("inactive thread listed: %+v", list)
	}

	if err := s.SetThreadInactive("missing"); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("SetThreadInactive(missing) = %v, want ErrNotFound", err)
	}
}

func TestListThreadsOrder(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		th := Thread{
			ID:        fmt.Sprintf("t%d", i),
			OwnerID:   "alice",
			Title:     fmt.Sprintf("thread %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateThread(th); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListThreads("alice", 10)
	if err != nil {
		t.Fatalf("ListThreads: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d threads, want 3", len(list))
	}
	if list[0].ID != "t2" || list[2].ID != "t0" {
		t.Errorf("threads not ordered by updated_at desc: %v, %v, %v", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestAppendMessageSequence(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateThread(Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}

	for i, role := range []string{"user", "assistant", "user"} {
		m, err := s.AppendMessage(Message{
			ID:       fmt.Sprintf("m%d", i),
			ThreadID: "t1",
			Role:     role,
			Content:  fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
		if m.Seq != i+1 {
			t.Errorf("message %d seq = %d, want %d", i, m.Seq, i+1)
		}
	}

	msgs, err := s.ListMessages("t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("message %d out of order: seq %d", i, m.Seq)
		}
	}
}

func TestAppendMessageMissingThread(t *testing.T) {
	s := openTestStore(t)

	_, err := s.AppendMessage(Message{ID: "m1", ThreadID: "nope", Role: "user", Content: "hi"})
	if !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMessageToolDataRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateThread(Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}

	m := Message{
		ID:       "m1",
		ThreadID: "t1",
		Role:     "assistant",
		Content:  "found 2 partners",
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "find_partners", Arguments: []byte(`{"limit":2}`)},
		},
		ToolResults: []ToolResult{
			{CallID: "c1", Output: `{"matches":[]}`},
		},
		Partial: true,
	}
	if _, err := s.AppendMessage(m); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.ListMessages("t1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	got := msgs[0]
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "find_partners" {
		t.Errorf("ToolCalls = %+v", got.ToolCalls)
	}
	if len(got.ToolResults) != 1 || got.ToolResults[0].CallID != "c1" {
		t.Errorf("ToolResults = %+v", got.ToolResults)
	}
	if !got.Partial {
		t.Error("Partial flag lost")
	}
}

func TestFeedbackOverwrite(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateThread(Thread{ID: "t1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(Message{ID: "m1", ThreadID: "t1", Role: "assistant", Content: "hello"}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetFeedback("t1", "m1", 2, "not helpful"); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	if err := s.SetFeedback("t1", "m1", 5, "actually great"); err != nil {
		t.Fatalf("second SetFeedback: %v", err)
	}

	msgs, err := s.ListMessages("t1")
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].FeedbackScore != 5 || msgs[0].FeedbackText != "actually great" {
		t.Errorf("feedback = %d %q, want 5 %q", msgs[0].FeedbackScore, msgs[0].FeedbackText, "actually great")
	}

	if err := s.SetFeedback("t1", "missing", 4, ""); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("SetFeedback on missing message = %v, want ErrNotFound", err)
	}
	// Wrong thread id must not match the message.
	if err := s.SetFeedback("t2", "m1", 4, ""); !errors.Is(err, fault.ErrNotFound) {
		t.Errorf("SetFeedback with wrong thread = %v, want ErrNotFound", err)
	}
}

func TestSearchMaterials(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	docs := []Material{
		{ID: "m1", OwnerID: "alice", Title: "DB syllabus", Content: "B-trees and indexing", Source: "text", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "m2", OwnerID: "alice", Title: "Algo notes", Content: "dynamic programming", Source: "text", CreatedAt: now.Add(-time.Hour)},
		{ID: "m3", OwnerID: "bob", Title: "DB syllabus", Content: "B-trees", Source: "text", CreatedAt: now},
	}
	for _, m := range docs {
		if err := s.SaveMaterial(m); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.SearchMaterials("alice", "B-trees", 10)
	if err != nil {
		t.Fatalf("SearchMaterials: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("got %+v, want only alice's m1", got)
	}

	// Empty query lists all of the owner's materials, newest first.
	all, err := s.SearchMaterials("alice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "m2" {
		t.Errorf("got %+v, want m2 then m1", all)
	}
}
