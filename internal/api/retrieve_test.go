package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/tidegraph/tidegraph/internal/knowledge"
	"github.com/tidegraph/tidegraph/internal/testutil"
)

// fakeRetriever records search calls and returns canned hits.
type fakeRetriever struct {
	hits []knowledge.Hit
	err  error

	gotKB     int64
	gotTopK   int32
	calledAll bool
}

func (f *fakeRetriever) Search(_ context.Context, kbID int64, _ []float32, topK int32) ([]knowledge.Hit, error) {
	f.gotKB, f.gotTopK = kbID, topK
	return f.hits, f.err
}

func (f *fakeRetriever) SearchAll(_ context.Context, _ []float32, topK int32) ([]knowledge.Hit, error) {
	f.calledAll = true
	f.gotTopK = topK
	return f.hits, f.err
}

func retrieveHits() []knowledge.Hit {
	return []knowledge.Hit{
		{
			Chunk:        knowledge.Chunk{ID: uuid.New(), DocumentID: 1, Ordinal: 0, Text: "Spring tides follow the new moon."},
			DocumentName: "Tides Guide",
			SourceURI:    "https://example.com/tides",
			Similarity:   0.91,
		},
		{
			Chunk:        knowledge.Chunk{ID: uuid.New(), DocumentID: 2, Ordinal: 3, Text: "Neap tides halve the range."},
			DocumentName: "Harbor Almanac",
			Similarity:   0.74,
		},
	}
}

// newRetrieveFixture wires the handler with a mock embedder and fake search.
func newRetrieveFixture(t *testing.T, search *fakeRetriever) (*retrieveHandler, *testutil.MockEmbedder) {
	t.Helper()
	g := genkit.Init(context.Background())
	mock := testutil.NewMockEmbedder(knowledge.EmbedDim)
	embedder := mock.Register(g)
	return &retrieveHandler{
		embedder: embedder,
		search:   search,
		topK:     knowledge.DefaultTopK,
		logger:   discardLogger(),
	}, mock
}

func postRetrieve(h *retrieveHandler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/retrieve", strings.NewReader(body))
	h.retrieve(w, r)
	return w
}

func TestRetrieve_AllKnowledgeBases(t *testing.T) {
	search := &fakeRetriever{hits: retrieveHits()}
	h, _ := newRetrieveFixture(t, search)

	w := postRetrieve(h, `{"query":"when do spring tides peak?"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusOK, w.Body.String())
	}
	if !search.calledAll {
		t.Error("zero knowledge_base_id should search across all knowledge bases")
	}
	if search.gotTopK != knowledge.DefaultTopK {
		t.Errorf("topK = %d, want default %d", search.gotTopK, knowledge.DefaultTopK)
	}

	var body struct {
		Hits []knowledge.Hit `json:"hits"`
	}
	decodeData(t, w, &body)
	if len(body.Hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(body.Hits))
	}
	if body.Hits[0].DocumentName != "Tides Guide" {
		t.Errorf("hits[0].document_name = %q", body.Hits[0].DocumentName)
	}
}

func TestRetrieve_ScopedToKnowledgeBase(t *testing.T) {
	search := &fakeRetriever{hits: retrieveHits()[:1]}
	h, _ := newRetrieveFixture(t, search)

	w := postRetrieve(h, `{"query":"mooring lines","knowledge_base_id":3,"top_k":2}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if search.calledAll {
		t.Error("scoped retrieve should not search all knowledge bases")
	}
	if search.gotKB != 3 {
		t.Errorf("kbID = %d, want 3", search.gotKB)
	}
	if search.gotTopK != 2 {
		t.Errorf("topK = %d, want 2", search.gotTopK)
	}
}

func TestRetrieve_TopKCapped(t *testing.T) {
	search := &fakeRetriever{}
	h, _ := newRetrieveFixture(t, search)

	w := postRetrieve(h, `{"query":"tides","top_k":100000}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if search.gotTopK != maxRetrieveTopK {
		t.Errorf("topK = %d, want cap %d", search.gotTopK, maxRetrieveTopK)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	h, _ := newRetrieveFixture(t, &fakeRetriever{})

	for _, body := range []string{`{"query":""}`, `{"query":"   "}`, `{}`} {
		w := postRetrieve(h, body)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
		if got := decodeErrorEnvelope(t, w); got.Code != "empty_query" {
			t.Errorf("body %s: code = %q, want %q", body, got.Code, "empty_query")
		}
	}
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	h, mock := newRetrieveFixture(t, &fakeRetriever{})
	mock.FailWith(errors.New("embedding backend down"))

	w := postRetrieve(h, `{"query":"tides"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeErrorEnvelope(t, w); got.Code != "embed_failed" {
		t.Errorf("code = %q, want %q", got.Code, "embed_failed")
	}
}

func TestRetrieve_SearchFailure(t *testing.T) {
	search := &fakeRetriever{err: errors.New("pgvector index missing")}
	h, _ := newRetrieveFixture(t, search)

	w := postRetrieve(h, `{"query":"tides"}`)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if got := decodeErrorEnvelope(t, w); got.Code != "search_failed" {
		t.Errorf("code = %q, want %q", got.Code, "search_failed")
	}
}

func TestRetrieve_NoHitsIsArray(t *testing.T) {
	h, _ := newRetrieveFixture(t, &fakeRetriever{})

	w := postRetrieve(h, `{"query":"nothing indexed yet"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"hits":[]`) {
		t.Errorf("no hits should encode as [], got %q", w.Body.String())
	}
}
