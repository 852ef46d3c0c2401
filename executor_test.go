package rorm

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndFind(t *testing.T) {
	db := setupRelationDB(t)
	ctx := context.Background()

	m := users(db)
	u := &User{Name: "Ada", Active: true}
	if err := m.Create(ctx, u); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if u.ID == 0 {
		t.Fatal("Create should scan the generated primary key back")
	}

	found, err := m.Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found.Name != "Ada" || !found.Active {
		t.Errorf("found = %+v", found)
	}

	if _, err := m.Find(ctx, 999); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Find missing = %v, want ErrRecordNotFound", err)
	}

	if err := m.Create(ctx, nil); !errors.Is(err, ErrNilPointer) {
		t.Errorf("Create(nil) = %v, want ErrNilPointer", err)
	}
}

func TestGetWithConditions(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).
		Where("active", true).
		OrderBy("name", "ASC").
		Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Ada" || got[1].Name != "Grace" {
		t.Errorf("active users = %v, want [Ada Grace]", userNames(got))
	}

	got, err = users(db).Where("country_id", 1).Limit(1).Offset(1).OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Linus" {
		t.Errorf("paged = %v, want [Linus]", userNames(got))
	}
}

func TestFirstNotFound(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)

	_, err := users(db).Where("name", "Nobody").First(context.Background())
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdateEntity(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	m, ada := findUser(t, db, 1)
	ada.Name = "Ada L."
	if err := m.Update(ctx, ada); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	reread, err := m.Find(ctx, 1)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if reread.Name != "Ada L." {
		t.Errorf("name = %q, want Ada L.", reread.Name)
	}
}

func TestUpdateColumns(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	m, ada := findUser(t, db, 1)
	ada.Name = "Renamed"
	ada.Active = false
	if err := m.UpdateColumns(ctx, ada, "name"); err != nil {
		t.Fatalf("UpdateColumns failed: %v", err)
	}

	reread, _ := m.Find(ctx, 1)
	if reread.Name != "Renamed" {
		t.Errorf("name = %q, want Renamed", reread.Name)
	}
	if !reread.Active {
		t.Error("active should be untouched")
	}
}

func TestDeleteWithWhere(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	if err := posts(db).Where("published", false).Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	n, err := posts(db).Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("posts left = %d, want 3", n)
	}
}

func TestCountAndExists(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	n, err := users(db).Where("country_id", 1).Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}

	ok, err := users(db).Where("name", "Grace").Exists(ctx)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Error("Grace should exist")
	}

	ok, err = users(db).Where("name", "Nobody").Exists(ctx)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Error("Nobody should not exist")
	}
}

func TestPluck(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	names, err := users(db).Where("country_id", 1).OrderBy("id", "ASC").Pluck(ctx, "name")
	if err != nil {
		t.Fatalf("Pluck failed: %v", err)
	}
	if len(names) != 2 || names[0] != "Ada" || names[1] != "Linus" {
		t.Errorf("plucked = %v, want [Ada Linus]", names)
	}

	if _, err := users(db).Pluck(ctx, "bad name"); !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("Pluck invalid column = %v, want ErrInvalidIdentifier", err)
	}
}

func TestCreateManyBatch(t *testing.T) {
	db := setupRelationDB(t)
	ctx := context.Background()

	entities := make([]*User, 0, 10)
	for i := 0; i < 10; i++ {
		entities = append(entities, &User{Name: "bulk", Active: true, CountryID: 1})
	}
	if err := users(db).CreateMany(ctx, entities); err != nil {
		t.Fatalf("CreateMany failed: %v", err)
	}

	for i, e := range entities {
		if e.ID == 0 {
			t.Fatalf("entity %d did not get a primary key", i)
		}
	}

	n, err := users(db).Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 10 {
		t.Errorf("Count = %d, want 10", n)
	}
}

func TestUpdateMany(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	err := users(db).Where("country_id", 1).UpdateMany(ctx, map[string]any{"active": false})
	if err != nil {
		t.Fatalf("UpdateMany failed: %v", err)
	}

	n, err := users(db).Where("active", true).Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("active users = %d, want 1 (Grace)", n)
	}
}

func TestUpdateManyStampsCopy(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	values := map[string]any{"level": 5}
	m := New[RoleUser]().SetDB(db)
	if err := m.Where("role_id", 2).UpdateMany(ctx, values); err != nil {
		t.Fatalf("UpdateMany failed: %v", err)
	}

	// The automatic updated_at stamp must not land in the caller's map.
	if len(values) != 1 {
		t.Errorf("caller map mutated: %v", values)
	}
	if _, ok := values["updated_at"]; ok {
		t.Error("caller map picked up updated_at")
	}

	var stamped int
	if err := db.QueryRow(
		"SELECT COUNT(*) FROM role_user WHERE role_id = 2 AND level = 5 AND updated_at IS NOT NULL",
	).Scan(&stamped); err != nil {
		t.Fatal(err)
	}
	if stamped != 2 {
		t.Errorf("stamped rows = %d, want 2", stamped)
	}
}

func TestWhereForms(t *testing.T) {
	db := setupRelationDB(t)
	seedRelationData(t, db)
	ctx := context.Background()

	got, err := users(db).Where("name", "LIKE", "%a%").OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("LIKE matched %v, want [Ada Grace]", userNames(got))
	}

	got, err = users(db).WhereIn("id", []any{1, 3}).OrderBy("id", "ASC").Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 2 || got[1].Name != "Grace" {
		t.Errorf("WhereIn = %v, want [Ada Grace]", userNames(got))
	}

	got, err = users(db).Where("country_id > ?", 1).Get(ctx)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Grace" {
		t.Errorf("raw where = %v, want [Grace]", userNames(got))
	}
}
