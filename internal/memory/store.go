package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"scenesmith/internal/embedding"
	"scenesmith/internal/logging"
)

// Store is the sqlite-backed fix memory. A single *sql.DB with one open
// connection serializes writers; the upsert makes record-or-increment atomic
// per signature.
type Store struct {
	db            *sql.DB
	mu            sync.Mutex
	maxSnippetLen int
	engine        embedding.Engine
}

// Option configures a Store.
type Option func(*Store)

// WithEmbeddings enables semantic reranking of preventive examples. Without
// it the store falls back to recency ordering.
func WithEmbeddings(e embedding.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// WithMaxSnippetLen bounds how much of each code snippet is persisted.
func WithMaxSnippetLen(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSnippetLen = n
		}
	}
}

const defaultMaxSnippetLen = 2000

// Open opens (creating if needed) the fix memory database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, maxSnippetLen: defaultMaxSnippetLen}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Memory("store opened at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fixes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL,
		normalized_message TEXT NOT NULL,
		context_digest TEXT NOT NULL,
		original_snippet TEXT NOT NULL,
		fixed_snippet TEXT NOT NULL,
		fixed_digest TEXT NOT NULL,
		lesson TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(category, normalized_message, context_digest, fixed_digest)
	);
	CREATE INDEX IF NOT EXISTS idx_fixes_lookup ON fixes(category, normalized_message);

	CREATE TABLE IF NOT EXISTS examples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL,
		code TEXT NOT NULL,
		embedding TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate memory schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists a successful fix. Calling it again with the same signature
// and the same fixed snippet increments success_count on the existing row
// instead of inserting a second one.
func (s *Store) Record(ctx context.Context, sig Signature, original, fixed, lesson string, method Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original = truncateSnippet(original, s.maxSnippetLen)
	fixed = truncateSnippet(fixed, s.maxSnippetLen)
	fixedDigest := digest(fixed)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fixes (category, normalized_message, context_digest, original_snippet, fixed_snippet, fixed_digest, lesson, method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(category, normalized_message, context_digest, fixed_digest)
		DO UPDATE SET success_count = success_count + 1`,
		sig.Category.String(), sig.NormalizedMessage, sig.ContextDigest,
		original, fixed, fixedDigest, lesson, string(method))
	if err != nil {
		return fmt.Errorf("record fix: %w", err)
	}
	logging.Memory("recorded fix %s method=%s", sig, method)
	return nil
}

// FindSimilar returns stored fixes whose category and normalized message
// match sig exactly. An identical context digest ranks first, then higher
// success counts, then recency.
func (s *Store) FindSimilar(ctx context.Context, sig Signature, limit int) ([]FixRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, normalized_message, context_digest, original_snippet, fixed_snippet, lesson, method, success_count, created_at
		FROM fixes
		WHERE category = ? AND normalized_message = ?
		ORDER BY (context_digest = ?) DESC, success_count DESC, created_at DESC, id DESC
		LIMIT ?`,
		sig.Category.String(), sig.NormalizedMessage, sig.ContextDigest, limit)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []FixRecord
	for rows.Next() {
		var r FixRecord
		var cat, method string
		if err := rows.Scan(&r.ID, &cat, &r.Signature.NormalizedMessage, &r.Signature.ContextDigest,
			&r.OriginalSnippet, &r.FixedSnippet, &r.Lesson, &method, &r.SuccessCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fix: %w", err)
		}
		r.Signature.Category = ParseCategory(cat)
		r.Method = Method(method)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Lessons returns the distinct non-empty lessons attached to fixes matching
// sig, strongest fixes first. Used to surface "what we learned" in generative
// fix prompts.
func (s *Store) Lessons(ctx context.Context, sig Signature, limit int) ([]string, error) {
	recs, err := s.FindSimilar(ctx, sig, limit*2)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var lessons []string
	for _, r := range recs {
		l := strings.TrimSpace(r.Lesson)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		lessons = append(lessons, l)
		if len(lessons) >= limit {
			break
		}
	}
	return lessons, nil
}

// RecordExample stores a successful first-draft generation as a preventive
// pattern. When embeddings are enabled the description is embedded at write
// time so retrieval does not pay the cost per example.
func (s *Store) RecordExample(ctx context.Context, description, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code = truncateSnippet(code, s.maxSnippetLen)

	var embJSON string
	if s.engine != nil {
		vec, err := s.engine.Embed(ctx, description)
		if err != nil {
			logging.Memory("example embedding failed, storing without: %v", err)
		} else if b, err := json.Marshal(vec); err == nil {
			embJSON = string(b)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO examples (description, code, embedding) VALUES (?, ?, ?)`,
		description, code, embJSON)
	if err != nil {
		return fmt.Errorf("record example: %w", err)
	}
	return nil
}

// FindExamples returns up to limit preventive examples relevant to the given
// scene description. With an embedding engine the candidates are reranked by
// cosine similarity; otherwise the most recent examples win.
func (s *Store) FindExamples(ctx context.Context, description string, limit int) ([]Example, error) {
	if limit <= 0 {
		limit = 2
	}
	// Over-fetch so the rerank has something to choose from.
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, code, embedding, created_at
		FROM examples ORDER BY created_at DESC, id DESC LIMIT ?`, limit*10)
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		ex    Example
		vec   []float32
		score float64
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		var embJSON string
		if err := rows.Scan(&c.ex.ID, &c.ex.Description, &c.ex.Code, &embJSON, &c.ex.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		if embJSON != "" {
			_ = json.Unmarshal([]byte(embJSON), &c.vec)
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.engine != nil && len(cands) > 0 {
		query, err := s.engine.Embed(ctx, description)
		if err == nil {
			for i := range cands {
				if len(cands[i].vec) == 0 {
					continue
				}
				if sim, err := embedding.CosineSimilarity(query, cands[i].vec); err == nil {
					cands[i].score = sim
				}
			}
			sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
		} else {
			logging.Memory("query embedding failed, using recency order: %v", err)
		}
	}

	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]Example, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.ex)
	}
	return out, nil
}

// Stats summarizes the store contents.
type Stats struct {
	FixCount       int
	ExampleCount   int
	TotalSuccesses int
	ByCategory     map[string]int
	ByMethod       map[string]int
}

// Stats returns aggregate counts for status reporting.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByCategory: make(map[string]int), ByMethod: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(success_count), 0) FROM fixes`)
	if err := row.Scan(&st.FixCount, &st.TotalSuccesses); err != nil {
		return st, fmt.Errorf("count fixes: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM examples`)
	if err := row.Scan(&st.ExampleCount); err != nil {
		return st, fmt.Errorf("count examples: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM fixes GROUP BY category`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return st, err
		}
		st.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	mrows, err := s.db.QueryContext(ctx, `SELECT method, COUNT(*) FROM fixes GROUP BY method`)
	if err != nil {
		return st, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var method string
		var n int
		if err := mrows.Scan(&method, &n); err != nil {
			return st, err
		}
		st.ByMethod[method] = n
	}
	return st, mrows.Err()
}

// truncateSnippet bounds a snippet to max bytes. Truncation keeps the tail,
// where the failing construct usually sits, and is deterministic: the same
// input always yields the same stored snippet.
func truncateSnippet(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	const marker = "# ...truncated...\n"
	keep := max - len(marker)
	if keep <= 0 {
		return s[len(s)-max:]
	}
	tail := s[len(s)-keep:]
	// Snap to a line boundary so the stored snippet starts cleanly.
	if i := strings.IndexByte(tail, '\n'); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}
	return marker + tail
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
