package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/studycircle/studycircle/internal/fault"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding profiles, like/pass decisions,
// conversation threads and messages, and ingested study materials. It is
// both the candidate repository for the matching engine and the thread
// store for the agent orchestrator.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "studycircle.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return t, nil
}

func marshalSet(vals []string) string {
	if vals == nil {
		return "[]"
	}
	b, _ := json.Marshal(vals)
	return string(b)
}

func unmarshalSet(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

// --- Profiles ---

const profileColumns = `user_id, first_name, last_name, university, major, year, bio,
	interests, skills, study_goals, study_times, languages, gpa,
	avg_rating, total_matches, subscription_tier, status, public,
	last_active, created_at, updated_at`

// UpsertProfile inserts or replaces a profile snapshot keyed by UserID.
func (s *Store) UpsertProfile(p Profile) error {
	var gpa sql.NullFloat64
	if p.GPA != nil {
		gpa = sql.NullFloat64{Float64: *p.GPA, Valid: true}
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastActive.IsZero() {
		p.LastActive = now
	}
	_, err := s.db.Exec(`
		INSERT INTO profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			university = excluded.university,
			major = excluded.major,
			year = excluded.year,
			bio = excluded.bio,
			interests = excluded.interests,
			skills = excluded.skills,
			study_goals = excluded.study_goals,
			study_times = excluded.study_times,
			languages = excluded.languages,
			gpa = excluded.gpa,
			avg_rating = excluded.avg_rating,
			total_matches = excluded.total_matches,
			subscription_tier = excluded.subscription_tier,
			status = excluded.status,
			public = excluded.public,
			last_active = excluded.last_active,
			updated_at = excluded.updated_at`,
		p.UserID, p.FirstName, p.LastName, p.University, p.Major, p.Year, p.Bio,
		marshalSet(p.Interests), marshalSet(p.Skills), marshalSet(p.StudyGoals),
		marshalSet(p.StudyTimes), marshalSet(p.Languages), gpa,
		p.AvgRating, p.TotalMatches, p.SubscriptionTier, p.Status, p.Public,
		fmtTime(p.LastActive), fmtTime(p.CreatedAt), fmtTime(now),
	)
	return err
}

func scanProfile(scan func(dest ...any) error) (Profile, error) {
	var p Profile
	var interests, skills, goals, times, langs string
	var gpa sql.NullFloat64
	var lastActive, createdAt, updatedAt string
	err := scan(
		&p.UserID, &p.FirstName, &p.LastName, &p.University, &p.Major, &p.Year, &p.Bio,
		&interests, &skills, &goals, &times, &langs, &gpa,
		&p.AvgRating, &p.TotalMatches, &p.SubscriptionTier, &p.Status, &p.Public,
		&lastActive, &createdAt, &updatedAt,
	)
	if err != nil {
		return Profile{}, err
	}
	if gpa.Valid {
		v := gpa.Float64
		p.GPA = &v
	}
	for _, f := range []struct {
		raw string
		dst *[]string
	}{
		{interests, &p.Interests}, {skills, &p.Skills}, {goals, &p.StudyGoals},
		{times, &p.StudyTimes}, {langs, &p.Languages},
	} {
		if err := unmarshalSet(f.raw, f.dst); err != nil {
			return Profile{}, fmt.Errorf("parsing profile facet: %w", err)
		}
	}
	var perr error
	if p.LastActive, perr = parseTime(lastActive); perr != nil {
		return Profile{}, perr
	}
	if p.CreatedAt, perr = parseTime(createdAt); perr != nil {
		return Profile{}, perr
	}
	if p.UpdatedAt, perr = parseTime(updatedAt); perr != nil {
		return Profile{}, perr
	}
	return p, nil
}

// GetProfile returns the profile for userID, or fault.ErrNotFound.
func (s *Store) GetProfile(userID string) (Profile, error) {
	row := s.db.QueryRow(`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID)
	p, err := scanProfile(row.Scan)
	if err == sql.ErrNoRows {
		return Profile{}, fault.ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ListEligibleCandidates returns all active public profiles except the
// viewer's own. Exclusion filtering (prior likes/passes, caller-supplied
// ids) is the matching engine's job.
func (s *Store) ListEligibleCandidates(viewerID string) ([]Profile, error) {
	rows, err := s.db.Query(`
		SELECT `+profileColumns+` FROM profiles
		WHERE status = 'active' AND public = 1 AND user_id != ?
		ORDER BY user_id ASC`, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Decisions ---

// SaveDecision records a like/pass verdict, overwriting any prior verdict
// for the same (actor, recipient) pair.
func (s *Store) SaveDecision(actorID, recipientID string, liked bool) error {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO decisions (actor_id, recipient_id, liked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, recipient_id) DO UPDATE SET
			liked = excluded.liked, updated_at = excluded.updated_at`,
		actorID, recipientID, liked, now, now,
	)
	return err
}

// ListExclusions returns the ids a user must never be shown again: everyone
// the user has already liked or passed, plus everyone who has already liked
// the user (an existing or pending match). Recomputed per request.
func (s *Store) ListExclusions(userID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(`
		SELECT recipient_id FROM decisions WHERE actor_id = ?
		UNION
		SELECT actor_id FROM decisions WHERE recipient_id = ? AND liked = 1`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	excluded := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		excluded[id] = struct{}{}
	}
	return excluded, rows.Err()
}

// --- Threads ---

// CreateThread inserts a new active thread.
func (s *Store) CreateThread(t Thread) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO threads (id, owner_id, title, is_active, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		t.ID, t.OwnerID, t.Title, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	return err
}

// GetThread fetches a thread by id, including soft-deleted ones.
func (s *Store) GetThread(id string) (Thread, error) {
	var t Thread
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, owner_id, title, is_active, created_at, updated_at
		FROM threads WHERE id = ?`, id,
	).Scan(&t.ID, &t.OwnerID, &t.Title, &t.IsActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Thread{}, fault.ErrNotFound
	}
	if err != nil {
		return Thread{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return Thread{}, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Thread{}, err
	}
	return t, nil
}

// ListThreads returns the owner's active threads, most recently updated first.
func (s *Store) ListThreads(ownerID string, limit int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, owner_id, title, is_active, created_at, updated_at
		FROM threads WHERE owner_id = ? AND is_active = 1
		ORDER BY updated_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Thread
	for rows.Next() {
		var t Thread
		var createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// SetThreadInactive soft-deletes a thread. The row remains fetchable by id.
func (s *Store) SetThreadInactive(id string) error {
	res, err := s.db.Exec(`UPDATE threads SET is_active = 0, updated_at = ? WHERE id = ?`,
		fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage appends a message to a thread and touches the thread's
// updated_at, in one transaction: a concurrent reader sees either the full
// new message or none of it. The per-thread sequence number is assigned
// inside the transaction.
func (s *Store) AppendMessage(m Message) (Message, error) {
	if m.ID == "" {
		return Message{}, fmt.Errorf("message id is required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	toolCalls, err := json.Marshal(m.ToolCalls)
	if err != nil {
		return Message{}, fmt.Errorf("marshalling tool calls: %w", err)
	}
	toolResults, err := json.Marshal(m.ToolResults)
	if err != nil {
		return Message{}, fmt.Errorf("marshalling tool results: %w", err)
	}
	if m.ToolCalls == nil {
		toolCalls = []byte("[]")
	}
	if m.ToolResults == nil {
		toolResults = []byte("[]")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Message{}, fmt.Errorf("beginning append transaction: %w", err)
	}

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM threads WHERE id = ?`, m.ThreadID).Scan(&exists); err != nil {
		tx.Rollback()
		return Message{}, err
	}
	if exists == 0 {
		tx.Rollback()
		return Message{}, fault.ErrNotFound
	}

	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE thread_id = ?`,
		m.ThreadID).Scan(&m.Seq); err != nil {
		tx.Rollback()
		return Message{}, err
	}

	if _, err := tx.Exec(`
		INSERT INTO messages (id, thread_id, seq, role, content, tool_calls, tool_results, partial, feedback_score, feedback_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?)`,
		m.ID, m.ThreadID, m.Seq, m.Role, m.Content, string(toolCalls), string(toolResults),
		m.Partial, fmtTime(m.CreatedAt),
	); err != nil {
		tx.Rollback()
		return Message{}, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(`UPDATE threads SET updated_at = ? WHERE id = ?`,
		fmtTime(m.CreatedAt), m.ThreadID); err != nil {
		tx.Rollback()
		return Message{}, fmt.Errorf("touching thread: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("committing append: %w", err)
	}
	return m, nil
}

// ListMessages returns a thread's messages in append order.
func (s *Store) ListMessages(threadID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, thread_id, seq, role, content, tool_calls, tool_results, partial, feedback_score, feedback_text, created_at
		FROM messages WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var toolCalls, toolResults, createdAt string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Seq, &m.Role, &m.Content,
			&toolCalls, &toolResults, &m.Partial, &m.FeedbackScore, &m.FeedbackText, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(toolCalls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("parsing tool calls: %w", err)
		}
		if err := json.Unmarshal([]byte(toolResults), &m.ToolResults); err != nil {
			return nil, fmt.Errorf("parsing tool results: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// SetFeedback sets the feedback score and text on a message. Re-submission
// replaces the prior feedback; the (threadID, messageID) key makes this a
// single-row update, so no read-modify-write race exists.
func (s *Store) SetFeedback(threadID, messageID string, score int, text string) error {
	res, err := s.db.Exec(`
		UPDATE messages SET feedback_score = ?, feedback_text = ?
		WHERE id = ? AND thread_id = ?`, score, text, messageID, threadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fault.ErrNotFound
	}
	return nil
}

// --- Materials ---

// SaveMaterial stores an ingested study document.
func (s *Store) SaveMaterial(m Material) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO materials (id, owner_id, title, content, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Title, m.Content, m.Source, fmtTime(m.CreatedAt),
	)
	return err
}

// SearchMaterials returns the owner's materials whose title or content
// contains the query substring, newest first. An empty query lists all.
func (s *Store) SearchMaterials(ownerID, query string, limit int) ([]Material, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(`
		SELECT id, owner_id, title, content, source, created_at
		FROM materials
		WHERE owner_id = ? AND (title LIKE ? OR content LIKE ?)
		ORDER BY created_at DESC LIMIT ?`, ownerID, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Material
	for rows.Next() {
		var m Material
		var createdAt string
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Title, &m.Content, &m.Source, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
