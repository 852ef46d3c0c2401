package rorm

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

// Shared relation fixtures: countries own users, users own profiles and
// posts, posts own comments, users and roles meet in the role_user pivot.

type Country struct {
	ID         int64
	Name       string
	Users      []User
	Posts      []Post
	Aggregates map[string]int64
}

func (Country) UsersRelation() HasMany[User] {
	return HasMany[User]{}
}

func (Country) PostsRelation() HasManyThrough[Post] {
	return HasManyThrough[Post]{Through: "User", ThroughMethod: "Posts"}
}

type User struct {
	ID        int64
	Name      string
	Active    bool
	CountryID int64

	Profile     *Profile
	Posts       []Post
	Country     *Country
	Roles       []*Role
	RankedRoles []*Role
	Aggregates  map[string]int64
}

func (User) ProfileRelation() HasOne[Profile] {
	return HasOne[Profile]{}
}

func (User) PostsRelation() HasMany[Post] {
	return HasMany[Post]{}
}

func (User) CountryRelation() BelongsTo[Country] {
	return BelongsTo[Country]{}
}

func (User) RolesRelation() BelongsToMany[Role] {
	return BelongsToMany[Role]{}
}

func (User) RankedRolesRelation() BelongsToMany[Role] {
	return BelongsToMany[Role]{PivotColumns: []string{"level"}}
}

type Profile struct {
	ID     int64
	UserID int64
	Bio    string
}

type Post struct {
	ID        int64
	UserID    int64
	Title     string
	Published bool

	User       *User
	Comments   []Comment
	Aggregates map[string]int64
}

func (Post) UserRelation() BelongsTo[User] {
	return BelongsTo[User]{}
}

func (Post) CommentsRelation() HasMany[Comment] {
	return HasMany[Comment]{}
}

type Comment struct {
	ID     int64
	PostID int64
	Body   string
	Likes  int64
}

type Role struct {
	ID   int64
	Name string

	Users        []*User
	ModeledUsers []*User
	Pivot        map[string]any
}

func (Role) UsersRelation() BelongsToMany[User] {
	return BelongsToMany[User]{}
}

func (Role) ModeledUsersRelation() BelongsToMany[User] {
	return BelongsToMany[User]{PivotModel: "RoleUser"}
}

// RoleUser models the role_user pivot rows directly, for routing pivot
// writes through model hooks.
type RoleUser struct {
	ID        int64
	RoleID    int64
	UserID    int64
	Level     int64
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (RoleUser) TableName() string { return "role_user" }

func (r *RoleUser) BeforeCreate(ctx context.Context) error {
	if r.Note == "" {
		r.Note = "granted"
	}
	return nil
}

var relationSchema = []string{
	`CREATE TABLE countries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		country_id INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		bio TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE comments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		post_id INTEGER NOT NULL,
		body TEXT NOT NULL,
		likes INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE role_user (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

func setupRelationDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// A second pooled connection to :memory: is a separate empty database;
	// concurrent relation loads must share the one holding the schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range relationSchema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}
	return db
}

func seedRelationData(t *testing.T, db *sql.DB) {
	t.Helper()

	seed := []string{
		`INSERT INTO countries (id, name) VALUES
			(1, 'Netherlands'), (2, 'Belgium'), (3, 'France')`,
		`INSERT INTO users (id, name, active, country_id) VALUES
			(1, 'Ada', 1, 1),
			(2, 'Linus', 0, 1),
			(3, 'Grace', 1, 2),
			(4, 'Drifter', 0, 0)`,
		`INSERT INTO profiles (id, user_id, bio) VALUES
			(1, 1, 'systems'),
			(2, 3, 'compilers')`,
		`INSERT INTO posts (id, user_id, title, published) VALUES
			(1, 1, 'Intro', 1),
			(2, 1, 'Draft', 0),
			(3, 2, 'Kernel', 1),
			(4, 3, 'Compilers', 1)`,
		`INSERT INTO comments (id, post_id, body, likes) VALUES
			(1, 1, 'nice', 5),
			(2, 1, 'thanks', 1),
			(3, 3, 'hmm', 0)`,
		`INSERT INTO roles (id, name) VALUES
			(1, 'admin'), (2, 'editor'), (3, 'viewer')`,
		`INSERT INTO role_user (id, role_id, user_id, level) VALUES
			(1, 1, 1, 9),
			(2, 2, 1, 3),
			(3, 2, 2, 1),
			(4, 3, 3, 0)`,
	}
	for _, stmt := range seed {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed data: %v", err)
		}
	}
}

func newTestResolver() *ModelResolver {
	r := NewModelResolver()
	r.Register("Country", Country{})
	r.Register("User", User{})
	r.Register("Profile", Profile{})
	r.Register("Post", Post{})
	r.Register("Comment", Comment{})
	r.Register("Role", Role{})
	r.Register("RoleUser", RoleUser{})
	return r
}

func users(db *sql.DB) *Model[User] {
	return New[User]().SetDB(db).WithResolver(newTestResolver())
}

func countries(db *sql.DB) *Model[Country] {
	return New[Country]().SetDB(db).WithResolver(newTestResolver())
}

func posts(db *sql.DB) *Model[Post] {
	return New[Post]().SetDB(db).WithResolver(newTestResolver())
}

func roles(db *sql.DB) *Model[Role] {
	return New[Role]().SetDB(db).WithResolver(newTestResolver())
}
