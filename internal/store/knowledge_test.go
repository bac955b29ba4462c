package store

import (
	"context"
	"testing"

	"github.com/roach88/camino/internal/knowledge"
)

func TestGetKnowledgeByOrg_EmptyAggregate(t *testing.T) {
	s := createTestStore(t)

	k, err := s.Knowledge().GetByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("GetByOrg() failed: %v", err)
	}

	if k.OrgID != "org-1" {
		t.Errorf("org_id = %q, want %q", k.OrgID, "org-1")
	}
	if k.Version != 0 {
		t.Errorf("version = %d, want 0", k.Version)
	}
	if len(k.Fields) != 0 {
		t.Errorf("fields len = %d, want 0", len(k.Fields))
	}
}

func TestMergeFields_FirstWrite(t *testing.T) {
	s := createTestStore(t)

	fields := map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: createTestField(knowledge.Text("help businesses grow"), "j1", knowledge.LayerDirect),
	}

	version, err := s.Knowledge().MergeFields(context.Background(), "org-1", fields, 0)
	if err != nil {
		t.Fatalf("MergeFields() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	k, err := s.Knowledge().GetByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("GetByOrg() failed: %v", err)
	}
	if k.Version != 1 {
		t.Errorf("stored version = %d, want 1", k.Version)
	}

	f, ok := k.Fields[knowledge.KeyMission]
	if !ok {
		t.Fatal("mission field missing after merge")
	}
	if f.Value != knowledge.Text("help businesses grow") {
		t.Errorf("value = %v, want %q", f.Value, "help businesses grow")
	}
	if f.SourceJourneyID != "j1" {
		t.Errorf("source journey = %q, want %q", f.SourceJourneyID, "j1")
	}
	if f.SourceLayer != knowledge.LayerDirect {
		t.Errorf("source layer = %q, want %q", f.SourceLayer, knowledge.LayerDirect)
	}
	if !f.UpdatedAt.Equal(testEpoch) {
		t.Errorf("field updated_at = %v, want %v", f.UpdatedAt, testEpoch)
	}
}

func TestMergeFields_AllKindsRoundTrip(t *testing.T) {
	s := createTestStore(t)

	fields := map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission:     createTestField(knowledge.Text("grow"), "j1", knowledge.LayerDirect),
		knowledge.KeyChallenges:  createTestField(knowledge.List{"churn", "pricing"}, "j1", knowledge.LayerDerived),
		knowledge.KeyHealthScore: createTestField(knowledge.Score(0.85), "j1", knowledge.LayerDerived),
	}

	if _, err := s.Knowledge().MergeFields(context.Background(), "org-1", fields, 0); err != nil {
		t.Fatalf("MergeFields() failed: %v", err)
	}

	k, err := s.Knowledge().GetByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("GetByOrg() failed: %v", err)
	}

	if got := k.Fields[knowledge.KeyMission].Value; got != knowledge.Text("grow") {
		t.Errorf("mission = %v, want Text(grow)", got)
	}
	if got := k.Fields[knowledge.KeyHealthScore].Value; got != knowledge.Score(0.85) {
		t.Errorf("healthScore = %v, want Score(0.85)", got)
	}
	list, ok := k.Fields[knowledge.KeyChallenges].Value.(knowledge.List)
	if !ok {
		t.Fatalf("challenges = %T, want List", k.Fields[knowledge.KeyChallenges].Value)
	}
	if len(list) != 2 || list[0] != "churn" || list[1] != "pricing" {
		t.Errorf("challenges = %v, want [churn pricing]", list)
	}
}

func TestMergeFields_VersionBumpsPerMerge(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v1, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: createTestField(knowledge.Text("a"), "j1", knowledge.LayerDirect),
	}, 0)
	if err != nil {
		t.Fatalf("first MergeFields() failed: %v", err)
	}

	v2, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyVision: createTestField(knowledge.Text("b"), "j2", knowledge.LayerDirect),
	}, v1)
	if err != nil {
		t.Fatalf("second MergeFields() failed: %v", err)
	}

	if v1 != 1 || v2 != 2 {
		t.Errorf("versions = %d, %d, want 1, 2", v1, v2)
	}

	// Both fields present
	k, _ := s.Knowledge().GetByOrg(ctx, "org-1")
	if len(k.Fields) != 2 {
		t.Errorf("fields len = %d, want 2", len(k.Fields))
	}
}

func TestMergeFields_StaleVersionConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: createTestField(knowledge.Text("a"), "j1", knowledge.LayerDirect),
	}, 0); err != nil {
		t.Fatalf("MergeFields() failed: %v", err)
	}

	// Expecting version 0 again is stale
	_, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: createTestField(knowledge.Text("b"), "j2", knowledge.LayerDirect),
	}, 0)
	if err == nil {
		t.Fatal("stale MergeFields() should fail")
	}
	if !IsVersionConflict(err) {
		t.Errorf("error = %v, want VersionConflict", err)
	}

	// Nothing was written
	k, _ := s.Knowledge().GetByOrg(ctx, "org-1")
	if k.Fields[knowledge.KeyMission].Value != knowledge.Text("a") {
		t.Errorf("mission = %v, want unchanged Text(a)", k.Fields[knowledge.KeyMission].Value)
	}
}

func TestMergeFields_UpsertOverwritesProvenance(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: createTestField(knowledge.Text("old"), "j1", knowledge.LayerDirect),
	}, 0); err != nil {
		t.Fatalf("first MergeFields() failed: %v", err)
	}

	f := createTestField(knowledge.Text("new"), "j2", knowledge.LayerManual)
	f.UpdatedAt = testEpoch.AddDate(0, 0, 1)
	if _, err := s.Knowledge().MergeFields(ctx, "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: f,
	}, 1); err != nil {
		t.Fatalf("second MergeFields() failed: %v", err)
	}

	k, err := s.Knowledge().GetByOrg(ctx, "org-1")
	if err != nil {
		t.Fatalf("GetByOrg() failed: %v", err)
	}

	got := k.Fields[knowledge.KeyMission]
	if got.Value != knowledge.Text("new") {
		t.Errorf("value = %v, want Text(new)", got.Value)
	}
	if got.SourceJourneyID != "j2" {
		t.Errorf("source journey = %q, want %q", got.SourceJourneyID, "j2")
	}
	if got.SourceLayer != knowledge.LayerManual {
		t.Errorf("source layer = %q, want %q", got.SourceLayer, knowledge.LayerManual)
	}

	// Only one row per field
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM knowledge_fields WHERE org_id = 'org-1'").Scan(&count)
	if count != 1 {
		t.Errorf("field rows = %d, want 1", count)
	}
}

func TestMergeFields_EmptySetIsNoOp(t *testing.T) {
	s := createTestStore(t)

	version, err := s.Knowledge().MergeFields(context.Background(), "org-1", nil, 0)
	if err != nil {
		t.Fatalf("MergeFields() failed: %v", err)
	}
	if version != 0 {
		t.Errorf("version = %d, want 0 (no bump)", version)
	}

	// No aggregate row was created
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM knowledge WHERE org_id = 'org-1'").Scan(&count)
	if count != 0 {
		t.Errorf("aggregate rows = %d, want 0", count)
	}
}

func TestMergeFields_RejectsUnknownKey(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Knowledge().MergeFields(context.Background(), "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.Key("astrology"): createTestField(knowledge.Text("aries"), "j1", knowledge.LayerDirect),
	}, 0)
	if err == nil {
		t.Error("MergeFields() should reject unknown field key")
	}
}

func TestMergeFields_RejectsKindMismatch(t *testing.T) {
	s := createTestStore(t)

	// healthScore holds a score, not text
	_, err := s.Knowledge().MergeFields(context.Background(), "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyHealthScore: createTestField(knowledge.Text("great"), "j1", knowledge.LayerDerived),
	}, 0)
	if err == nil {
		t.Error("MergeFields() should reject value of wrong kind")
	}

	// The failed merge wrote nothing
	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM knowledge").Scan(&count)
	if count != 0 {
		t.Errorf("aggregate rows = %d, want 0", count)
	}
}

func TestMergeFields_RejectsUnknownLayer(t *testing.T) {
	s := createTestStore(t)

	f := createTestField(knowledge.Text("x"), "j1", knowledge.Layer("psychic"))
	_, err := s.Knowledge().MergeFields(context.Background(), "org-1", map[knowledge.Key]knowledge.Field{
		knowledge.KeyMission: f,
	}, 0)
	if err == nil {
		t.Error("MergeFields() should reject unknown layer")
	}
}
