package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestPointIDIsStable(t *testing.T) {
	a := pointID("doc-1_2_0")
	b := pointID("doc-1_2_0")
	c := pointID("doc-1_2_1")
	if a != b {
		t.Errorf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Error("expected different chunks to get different ids")
	}
}

func TestPayloadToMap(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"document_id": qdrant.NewValueString("doc-1"),
		"page_number": qdrant.NewValueInt(3),
		"score":       qdrant.NewValueDouble(0.5),
		"draft":       qdrant.NewValueBool(true),
	}
	got := payloadToMap(payload)
	if got["document_id"] != "doc-1" {
		t.Errorf("document_id: %v", got["document_id"])
	}
	if got["page_number"] != int64(3) {
		t.Errorf("page_number: %#v", got["page_number"])
	}
	if got["score"] != 0.5 || got["draft"] != true {
		t.Errorf("unexpected values: %v", got)
	}
}
