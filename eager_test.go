package rorm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestWithHasMany(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("Posts").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d users, want 4", len(got))
	}

	wantCounts := []int{2, 1, 1, 0}
	for i, u := range got {
		if len(u.Posts) != wantCounts[i] {
			t.Errorf("user %s has %d posts, want %d", u.Name, len(u.Posts), wantCounts[i])
		}
	}
	for _, p := range got[0].Posts {
		if p.UserID != got[0].ID {
			t.Errorf("post %q stitched onto wrong user", p.Title)
		}
	}
}

func TestWithHasOne(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("Profile").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got[0].Profile == nil || got[0].Profile.Bio != "systems" {
		t.Errorf("Ada's profile = %+v, want bio systems", got[0].Profile)
	}
	if got[1].Profile != nil {
		t.Errorf("Linus should have no profile, got %+v", got[1].Profile)
	}
}

func TestWithBelongsTo(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := posts(db).With("User").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got[0].User == nil || got[0].User.Name != "Ada" {
		t.Errorf("post %q owner = %+v, want Ada", got[0].Title, got[0].User)
	}
	if got[2].User == nil || got[2].User.Name != "Linus" {
		t.Errorf("post %q owner = %+v, want Linus", got[2].Title, got[2].User)
	}

	// Two posts by the same author share the loaded instance.
	if got[0].User != got[1].User {
		t.Error("posts by the same author should share one loaded user")
	}
}

func TestWithBelongsToZeroForeignKey(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("Country").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if got[0].Country == nil || got[0].Country.Name != "Netherlands" {
		t.Errorf("Ada's country = %+v, want Netherlands", got[0].Country)
	}
	if got[3].Country != nil {
		t.Errorf("Drifter has no country, got %+v", got[3].Country)
	}
}

func TestWithNestedPath(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("Posts.Comments").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var intro *Post
	for i := range got[0].Posts {
		if got[0].Posts[i].Title == "Intro" {
			intro = &got[0].Posts[i]
		}
	}
	if intro == nil {
		t.Fatal("Ada's Intro post not loaded")
	}
	if len(intro.Comments) != 2 {
		t.Errorf("Intro has %d comments, want 2", len(intro.Comments))
	}
}

func TestWithLeafConstraint(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		With("Posts", func(q *RelationConstraint) {
			q.Where("published = ?", 1).OrderBy("id", "DESC")
		}).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got[0].Posts) != 1 || got[0].Posts[0].Title != "Intro" {
		t.Errorf("Ada's published posts = %+v, want [Intro]", got[0].Posts)
	}
}

func TestWithConstraintSkippedOnParentOfDeeperPath(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	// The published filter binds to "Posts" as a leaf; once another path
	// descends through Posts, the filter no longer applies.
	got, err := users(db).
		With("Posts", func(q *RelationConstraint) { q.Where("published = ?", 1) }).
		With("Posts.Comments").
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got[0].Posts) != 2 {
		t.Errorf("Ada has %d posts, want 2 (filter bound to a non-leaf node)", len(got[0].Posts))
	}
}

func TestWithNestedConstraintCallback(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	// Nested With inside a callback keeps the callback's own filters live.
	got, err := users(db).
		With("Posts", func(q *RelationConstraint) {
			q.Where("published = ?", 1).With("Comments")
		}).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got[0].Posts) != 1 {
		t.Fatalf("Ada has %d published posts, want 1", len(got[0].Posts))
	}
	if len(got[0].Posts[0].Comments) != 2 {
		t.Errorf("Intro has %d comments, want 2", len(got[0].Posts[0].Comments))
	}
}

func TestWithBelongsToMany(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("Roles").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got[0].Roles) != 2 {
		t.Errorf("Ada has %d roles, want 2", len(got[0].Roles))
	}
	if len(got[2].Roles) != 1 || got[2].Roles[0].Name != "viewer" {
		t.Errorf("Grace's roles = %+v, want [viewer]", got[2].Roles)
	}
	if len(got[3].Roles) != 0 {
		t.Errorf("Drifter has %d roles, want 0", len(got[3].Roles))
	}
}

func TestWithPivotColumnsHydration(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).With("RankedRoles").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	levels := make(map[string]int64)
	for _, r := range got[0].RankedRoles {
		v, ok := r.Pivot["level"]
		if !ok {
			t.Fatalf("role %s has no pivot level", r.Name)
		}
		n, ok := v.(int64)
		if !ok {
			t.Fatalf("pivot level is %T, want int64", v)
		}
		levels[r.Name] = n
	}
	if levels["admin"] != 9 || levels["editor"] != 3 {
		t.Errorf("Ada's pivot levels = %v, want admin:9 editor:3", levels)
	}

	// Linus shares the editor role at a different level; hydrated copies
	// must not leak between owners.
	if len(got[1].RankedRoles) != 1 || got[1].RankedRoles[0].Pivot["level"] != int64(1) {
		t.Errorf("Linus's editor pivot = %+v, want level 1", got[1].RankedRoles)
	}
}

func TestWithHasManyThrough(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := countries(db).With("Posts").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if len(got[0].Posts) != 3 {
		t.Errorf("Netherlands has %d posts, want 3", len(got[0].Posts))
	}
	if len(got[1].Posts) != 1 || got[1].Posts[0].Title != "Compilers" {
		t.Errorf("Belgium's posts = %+v, want [Compilers]", got[1].Posts)
	}
	if len(got[2].Posts) != 0 {
		t.Errorf("France has %d posts, want 0", len(got[2].Posts))
	}
}

func TestWithEmptyPath(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)

	_, err := users(db).With("  ").Get(context.Background())
	if !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}

func TestWithUnknownRelation(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)

	_, err := users(db).With("Nothing").Get(context.Background())
	if !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("err = %v, want ErrRelationNotFound", err)
	}
}

func TestLoadSingle(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	m := users(db)
	ada, err := m.Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(ada.Posts) != 0 {
		t.Fatal("posts should not be loaded yet")
	}

	if err := m.Load(ctx, ada, "Posts"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(ada.Posts) != 2 {
		t.Errorf("Ada has %d posts after Load, want 2", len(ada.Posts))
	}

	if err := m.Load(ctx, nil, "Posts"); !errors.Is(err, ErrNilPointer) {
		t.Errorf("Load(nil) = %v, want ErrNilPointer", err)
	}
}

func TestLoadSlice(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	m := users(db)
	got, err := m.OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	if err := m.LoadSlice(ctx, got, "Profile"); err != nil {
		t.Fatalf("LoadSlice failed: %v", err)
	}
	if got[0].Profile == nil || got[2].Profile == nil {
		t.Error("profiles should load for Ada and Grace")
	}
}

func TestLoadMany(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	m := users(db)
	got, err := m.OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	err = m.LoadMany(ctx, got, map[string]ConstraintFunc{
		"Posts":   func(q *RelationConstraint) { q.Where("published = ?", 1) },
		"Country": nil,
	})
	if err != nil {
		t.Fatalf("LoadMany failed: %v", err)
	}
	if len(got[0].Posts) != 1 {
		t.Errorf("Ada has %d published posts, want 1", len(got[0].Posts))
	}
	if got[0].Country == nil {
		t.Error("Ada's country should load")
	}
}

func TestEagerBatchesQueries(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	// Owners sharing foreign keys collapse into one IN query; duplicate
	// keys must not produce duplicate stitched rows.
	got, err := users(db).Where("country_id", 1).With("Country").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d users, want 2", len(got))
	}
	for _, u := range got {
		if u.Country == nil || u.Country.Name != "Netherlands" {
			t.Errorf("user %s country = %+v, want Netherlands", u.Name, u.Country)
		}
	}
}

// loggingDriver wraps the sqlite driver and records every statement text, so
// tests can assert how many queries a load actually ran.
type loggingDriver struct {
	inner driver.Driver
}

var stmtLog struct {
	mu   sync.Mutex
	sqls []string
}

func resetStmtLog() {
	stmtLog.mu.Lock()
	stmtLog.sqls = nil
	stmtLog.mu.Unlock()
}

func loggedSelects(table string) []string {
	stmtLog.mu.Lock()
	defer stmtLog.mu.Unlock()
	var out []string
	for _, s := range stmtLog.sqls {
		if strings.HasPrefix(s, "SELECT") && strings.Contains(s, "FROM "+table) {
			out = append(out, s)
		}
	}
	return out
}

func (d *loggingDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.inner.Open(name)
	if err != nil {
		return nil, err
	}
	return &loggingConn{conn: conn}, nil
}

// loggingConn exposes only Prepare, so database/sql routes every statement
// through it exactly once per execution.
type loggingConn struct {
	conn driver.Conn
}

func (c *loggingConn) Prepare(query string) (driver.Stmt, error) {
	stmtLog.mu.Lock()
	stmtLog.sqls = append(stmtLog.sqls, query)
	stmtLog.mu.Unlock()
	return c.conn.Prepare(query)
}

func (c *loggingConn) Close() error {
	return c.conn.Close()
}

func (c *loggingConn) Begin() (driver.Tx, error) {
	return c.conn.Begin()
}

var registerLoggingDriver sync.Once

func setupLoggingDB(t *testing.T) *sql.DB {
	t.Helper()

	registerLoggingDriver.Do(func() {
		sql.Register("sqlite3_logging", &loggingDriver{inner: &sqlite3.SQLiteDriver{}})
	})

	db, err := sql.Open("sqlite3_logging", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range relationSchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return db
}

func TestEagerOneQueryPerNode(t *testing.T) {
	db := setupLoggingDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	resetStmtLog()
	got, err := users(db).With("Country").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d users, want 4", len(got))
	}

	countryQueries := loggedSelects("countries")
	if len(countryQueries) != 1 {
		t.Fatalf("loading 4 owners ran %d country queries, want 1: %v", len(countryQueries), countryQueries)
	}

	// Four owners carry country_id values 1, 1, 2 and 0: the batched IN-list
	// holds the two distinct non-zero keys, nothing per-owner.
	if n := strings.Count(countryQueries[0], "?"); n != 2 {
		t.Errorf("batched query has %d placeholders, want 2: %s", n, countryQueries[0])
	}
	if userQueries := loggedSelects("users"); len(userQueries) != 1 {
		t.Errorf("ran %d owner queries, want 1: %v", len(userQueries), userQueries)
	}
}

func TestEagerNestedQueryCount(t *testing.T) {
	db := setupLoggingDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	resetStmtLog()
	got, err := users(db).With("Posts.Comments").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d users, want 4", len(got))
	}

	// One query per tree node regardless of owner count: users, posts,
	// comments.
	for _, table := range []string{"users", "posts", "comments"} {
		if qs := loggedSelects(table); len(qs) != 1 {
			t.Errorf("ran %d %s queries, want 1: %v", len(qs), table, qs)
		}
	}
}
