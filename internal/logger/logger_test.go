package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestOrgIDRoundTrip(t *testing.T) {
	orgID := uuid.New()
	ctx := WithOrgID(context.Background(), orgID)

	got, ok := OrgIDFromContext(ctx)
	if !ok {
		t.Fatal("org id missing from context")
	}
	if got != orgID {
		t.Errorf("got %s, want %s", got, orgID)
	}
}

func TestOrgIDFromContext_Empty(t *testing.T) {
	if _, ok := OrgIDFromContext(context.Background()); ok {
		t.Error("unexpected org id in fresh context")
	}
}

func TestFromContext_AttachesOrgID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	orgID := uuid.New()
	ctx := WithOrgID(context.Background(), orgID)

	FromContext(ctx, base).Info("claimed job")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["org_id"] != orgID.String() {
		t.Errorf("got org_id %v, want %s", entry["org_id"], orgID)
	}
}

func TestFromContext_NoOrgID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	FromContext(context.Background(), base).Info("tick")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if _, present := entry["org_id"]; present {
		t.Error("org_id must not appear without tenant context")
	}
}
