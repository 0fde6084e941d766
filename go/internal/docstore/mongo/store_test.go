package mongo

import (
	"testing"

	"github.com/mcdev12/pointing/go/internal/docstore"
	"go.mongodb.org/mongo-driver/bson"
)

func TestBuildUpdateGroupsOperators(t *testing.T) {
	update, err := buildUpdate([]docstore.Update{
		docstore.Set("votes.u1", map[string]any{"storyPoints": 5}),
		docstore.Set("revealed", false),
		docstore.Delete("votes.u2"),
		docstore.ArrayUnion("participants", "u1"),
		docstore.ArrayRemove("participants", "u2"),
		docstore.Max("expiresAt", int64(100)),
	})
	if err != nil {
		t.Fatalf("buildUpdate failed: %v", err)
	}

	set, ok := update["$set"].(bson.M)
	if !ok || len(set) != 2 {
		t.Fatalf("expected two $set fields, got %#v", update["$set"])
	}
	if set["revealed"] != false {
		t.Fatalf("expected revealed=false, got %#v", set["revealed"])
	}
	vote, ok := set["votes.u1"].(map[string]any)
	if !ok || vote["storyPoints"] != float64(5) {
		t.Fatalf("expected normalized vote, got %#v", set["votes.u1"])
	}

	if _, ok := update["$unset"].(bson.M)["votes.u2"]; !ok {
		t.Fatalf("expected $unset of votes.u2")
	}

	union := update["$addToSet"].(bson.M)["participants"].(bson.M)
	if each := union["$each"].(bson.A); len(each) != 1 || each[0] != "u1" {
		t.Fatalf("unexpected $addToSet: %#v", union)
	}

	pull := update["$pull"].(bson.M)["participants"].(bson.M)
	if in := pull["$in"].(bson.A); len(in) != 1 || in[0] != "u2" {
		t.Fatalf("unexpected $pull: %#v", pull)
	}

	if got := update["$max"].(bson.M)["expiresAt"]; got != float64(100) {
		t.Fatalf("expected $max expiresAt=100, got %#v", got)
	}
}

func TestBuildFilter(t *testing.T) {
	filter, err := buildFilter(docstore.Filter{Path: "expiresAt", Op: docstore.OpLess, Value: int64(42)})
	if err != nil {
		t.Fatalf("buildFilter failed: %v", err)
	}
	cond := filter["expiresAt"].(bson.M)
	if cond["$lt"] != float64(42) {
		t.Fatalf("unexpected filter: %#v", filter)
	}

	if _, err := buildFilter(docstore.Filter{Path: "x", Op: "!="}); err == nil {
		t.Fatalf("expected unsupported operator error")
	}
}

func TestToDocumentFlattensDriverTypes(t *testing.T) {
	raw := bson.M{
		"_id":          "abc",
		"title":        "Sprint",
		"createdAt":    int64(7),
		"participants": bson.A{"u1", "u2"},
		"votes": bson.D{
			{Key: "u1", Value: bson.D{{Key: "storyPoints", Value: int32(3)}}},
		},
	}

	doc := toDocument(raw)
	if _, ok := doc["_id"]; ok {
		t.Fatalf("expected _id to be stripped")
	}
	if doc["createdAt"] != float64(7) {
		t.Fatalf("expected createdAt float64, got %#v", doc["createdAt"])
	}
	if parts, ok := doc["participants"].([]any); !ok || len(parts) != 2 {
		t.Fatalf("expected []any participants, got %#v", doc["participants"])
	}
	votes, ok := doc["votes"].(map[string]any)
	if !ok {
		t.Fatalf("expected votes map, got %#v", doc["votes"])
	}
	vote := votes["u1"].(map[string]any)
	if vote["storyPoints"] != float64(3) {
		t.Fatalf("expected storyPoints 3, got %#v", vote["storyPoints"])
	}
}
