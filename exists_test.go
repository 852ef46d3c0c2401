package rorm

import (
	"context"
	"errors"
	"testing"
)

func userNames(got []*User) []string {
	names := make([]string, len(got))
	for i, u := range got {
		names[i] = u.Name
	}
	return names
}

func TestHas(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).Has("Posts").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 3 || got[2].Name != "Grace" {
		t.Errorf("users with posts = %v, want [Ada Linus Grace]", userNames(got))
	}
}

func TestHasCountComparison(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).Has("Posts", ">=", 2).Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Ada" {
		t.Errorf("users with >= 2 posts = %v, want [Ada]", userNames(got))
	}

	got, err = users(db).Has("Posts", "=", 0).Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Drifter" {
		t.Errorf("users with zero posts = %v, want [Drifter]", userNames(got))
	}
}

func TestHasInvalidComparison(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	_, err := users(db).Has("Posts", ">=").Get(ctx)
	if !errors.Is(err, ErrUnsupportedConstraint) {
		t.Errorf("missing value = %v, want ErrUnsupportedConstraint", err)
	}

	_, err = users(db).Has("Posts", "LIKE", 2).Get(ctx)
	if !errors.Is(err, ErrUnsupportedConstraint) {
		t.Errorf("bad operator = %v, want ErrUnsupportedConstraint", err)
	}

	_, err = users(db).Has("Posts", 1, 2).Get(ctx)
	if !errors.Is(err, ErrUnsupportedConstraint) {
		t.Errorf("non-string operator = %v, want ErrUnsupportedConstraint", err)
	}
}

func TestWhereHas(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		WhereHas("Posts", func(q *RelationConstraint) { q.Where("published = ?", 0) }).
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Ada" {
		t.Errorf("users with drafts = %v, want [Ada]", userNames(got))
	}
}

func TestWhereHasCountComparison(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		WhereHas("Posts", func(q *RelationConstraint) { q.Where("published = ?", 1) }, "=", 1).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("users with exactly one published post = %v, want 3 users", userNames(got))
	}
}

func TestDoesntHave(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).DoesntHave("Posts").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Drifter" {
		t.Errorf("users without posts = %v, want [Drifter]", userNames(got))
	}
}

func TestWhereDoesntHave(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		WhereDoesntHave("Posts", func(q *RelationConstraint) { q.Where("published = ?", 0) }).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Only Ada holds a draft.
	want := []string{"Linus", "Grace", "Drifter"}
	if len(got) != 3 {
		t.Fatalf("users without drafts = %v, want %v", userNames(got), want)
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("got[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
}

func TestOrHas(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		Where("name", "Drifter").
		OrHas("Posts", ">=", 2).
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Ada" || got[1].Name != "Drifter" {
		t.Errorf("got %v, want [Ada Drifter]", userNames(got))
	}
}

func TestOrDoesntHave(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		Where("name", "Ada").
		OrDoesntHave("Posts").
		OrderBy("id", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Ada" || got[1].Name != "Drifter" {
		t.Errorf("got %v, want [Ada Drifter]", userNames(got))
	}
}

func TestHasBelongsToMany(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).Has("Roles").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("users with roles = %v, want 3", userNames(got))
	}

	got, err = users(db).
		WhereHas("Roles", func(q *RelationConstraint) { q.Where("roles.name = ?", "admin") }).
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Ada" {
		t.Errorf("admins = %v, want [Ada]", userNames(got))
	}
}

func TestHasThrough(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := countries(db).Has("Posts").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Netherlands" || got[1].Name != "Belgium" {
		t.Errorf("countries with posts = %d, want Netherlands and Belgium", len(got))
	}

	got, err = countries(db).DoesntHave("Posts").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "France" {
		t.Errorf("countries without posts = %d, want [France]", len(got))
	}
}

func TestHasBelongsTo(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).DoesntHave("Country").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Drifter" {
		t.Errorf("stateless users = %v, want [Drifter]", userNames(got))
	}
}

func TestHasUnknownRelation(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)

	_, err := users(db).Has("Nothing").Get(context.Background())
	if !errors.Is(err, ErrRelationNotFound) {
		t.Errorf("err = %v, want ErrRelationNotFound", err)
	}
}
