package extract

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/retry"
)

func fastGrobidRetry() GrobidOption {
	return WithGrobidRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func TestGrobidClient_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/processFulltextDocument" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("input")
		if err != nil {
			t.Errorf("missing input file: %v", err)
		} else {
			b, _ := io.ReadAll(f)
			if string(b) != "%PDF-fake" {
				t.Errorf("uploaded %q", b)
			}
		}
		if got := r.MultipartForm.Value["teiCoordinates"]; len(got) != 3 {
			t.Errorf("teiCoordinates = %v", got)
		}
		if r.FormValue("segmentSentences") != "1" {
			t.Error("segmentSentences not set")
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sampleTEI))
	}))
	defer srv.Close()

	doc, err := NewGrobidClient(srv.URL+"/", 0).Extract(context.Background(), []byte("%PDF-fake"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.Title != "Attention Is All You Need" || len(doc.Sections) != 3 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestGrobidClient_RetriesBusy(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(sampleTEI))
	}))
	defer srv.Close()

	if _, err := NewGrobidClient(srv.URL, 0, fastGrobidRetry()).Extract(context.Background(), []byte("%PDF")); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestGrobidClient_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/isalive":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()
	g := NewGrobidClient(srv.URL, 0, fastGrobidRetry())

	_, err := g.Extract(context.Background(), []byte("%PDF"))
	if apperr.KindOf(err) != apperr.KindStructureExtractionFailed {
		t.Errorf("kind = %s (%v)", apperr.KindOf(err), err)
	}
	if _, err := g.Extract(context.Background(), nil); apperr.KindOf(err) != apperr.KindEmptyDocument {
		t.Errorf("empty content kind = %s", apperr.KindOf(err))
	}
	if err := g.Ping(context.Background()); err == nil {
		t.Error("expected ping failure")
	}
}

type stubExtractor struct {
	doc   *models.Document
	err   error
	calls int
}

func (s *stubExtractor) Extract(context.Context, []byte) (*models.Document, error) {
	s.calls++
	return s.doc, s.err
}

func TestChain_FallsBack(t *testing.T) {
	primary := &stubExtractor{err: errors.New("grobid down")}
	fallback := &stubExtractor{doc: &models.Document{Title: "local", Sections: []models.Section{{Name: "Body", Text: "x"}}}}

	doc, err := NewChain(nil, primary, fallback).Extract(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "local" || primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("doc=%+v primary=%d fallback=%d", doc, primary.calls, fallback.calls)
	}
}

func TestChain_PrimaryWins(t *testing.T) {
	primary := &stubExtractor{doc: &models.Document{Title: "grobid", Sections: []models.Section{{Name: "Intro", Text: "x"}}}}
	fallback := &stubExtractor{}
	doc, err := NewChain(nil, primary, fallback).Extract(context.Background(), []byte("%PDF"))
	if err != nil || doc.Title != "grobid" || fallback.calls != 0 {
		t.Errorf("doc=%+v err=%v fallback calls=%d", doc, err, fallback.calls)
	}
}

func TestChain_AllFail(t *testing.T) {
	empty := &stubExtractor{doc: &models.Document{}}
	broken := &stubExtractor{err: errors.New("boom")}
	_, err := NewChain(nil, empty, broken).Extract(context.Background(), []byte("x"))
	if apperr.KindOf(err) != apperr.KindStructureExtractionFailed {
		t.Errorf("kind = %s", apperr.KindOf(err))
	}

	_, err = NewChain(nil).Extract(context.Background(), []byte("x"))
	if apperr.KindOf(err) != apperr.KindStructureExtractionFailed {
		t.Errorf("empty chain kind = %s", apperr.KindOf(err))
	}
}

func TestChain_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/isalive" {
			_, _ = w.Write([]byte("true"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewChain(nil, NewGrobidClient(srv.URL, time.Second), NewLocal())
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := NewChain(nil, NewLocal()).Ping(context.Background()); err != nil {
		t.Errorf("local-only Ping: %v", err)
	}
}
