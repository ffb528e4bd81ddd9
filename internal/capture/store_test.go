package capture

import (
	"fmt"
	"testing"
	"time"

	"github.com/funnyzak/reqplay/pkg/capture"
)

func recordAt(id string, start time.Time) *capture.Record {
	return &capture.Record{ID: id, URL: "https://example.com/" + id, Method: "GET", StartTime: start}
}

func TestStoreNextID(t *testing.T) {
	s := NewStore(10)
	if got := s.NextID(); got != "req_1" {
		t.Fatalf("expected req_1, got %s", got)
	}
	if got := s.NextID(); got != "req_2" {
		t.Fatalf("expected req_2, got %s", got)
	}
}

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	base := time.Now()

	for i := 0; i < 4; i++ {
		s.Put(recordAt(fmt.Sprintf("req_%d", i+1), base.Add(time.Duration(i)*time.Second)))
	}

	if s.Len() != 3 {
		t.Fatalf("expected 3 records after eviction, got %d", s.Len())
	}
	if _, ok := s.Get("req_1"); ok {
		t.Fatal("expected oldest record evicted")
	}
	for _, id := range []string{"req_2", "req_3", "req_4"} {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("expected %s retained", id)
		}
	}
}

func TestStoreQueryOrderAndLimit(t *testing.T) {
	s := NewStore(200)
	base := time.Now()

	for i := 0; i < 150; i++ {
		s.Put(recordAt(fmt.Sprintf("req_%d", i+1), base.Add(time.Duration(i)*time.Millisecond)))
	}

	// Default limit caps unfiltered queries
	got := s.Query(capture.Filter{})
	if len(got) != 100 {
		t.Fatalf("expected default limit of 100, got %d", len(got))
	}
	// Newest first
	if got[0].ID != "req_150" {
		t.Fatalf("expected newest record first, got %s", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].StartTime.After(got[i-1].StartTime) {
			t.Fatal("expected descending start time order")
		}
	}

	limited := s.Query(capture.Filter{Limit: 5})
	if len(limited) != 5 {
		t.Fatalf("expected 5 records, got %d", len(limited))
	}
}

func TestStoreQueryFilters(t *testing.T) {
	s := NewStore(10)
	now := time.Now()
	s.Put(&capture.Record{ID: "req_1", URL: "https://api.example.com/a", Method: "GET", StatusCode: 200, StartTime: now})
	s.Put(&capture.Record{ID: "req_2", URL: "https://other.net/b", Method: "POST", StatusCode: 500, StartTime: now.Add(time.Second)})

	got := s.Query(capture.Filter{Domain: "example.com"})
	if len(got) != 1 || got[0].ID != "req_1" {
		t.Fatalf("expected only req_1, got %v", got)
	}

	got = s.Query(capture.Filter{Method: "post", StatusCode: 500})
	if len(got) != 1 || got[0].ID != "req_2" {
		t.Fatalf("expected only req_2, got %v", got)
	}
}

func TestStoreGetReturnsClone(t *testing.T) {
	s := NewStore(10)
	s.Put(&capture.Record{ID: "req_1", URL: "https://example.com", RequestBody: []byte("abc"), StartTime: time.Now()})

	got, ok := s.Get("req_1")
	if !ok {
		t.Fatal("expected record")
	}
	got.RequestBody[0] = 'X'

	again, _ := s.Get("req_1")
	if string(again.RequestBody) != "abc" {
		t.Fatal("stored record must not be mutable through Get")
	}
}

func TestStoreReset(t *testing.T) {
	s := NewStore(10)
	s.Put(recordAt(s.NextID(), time.Now()))

	s.Reset(5)
	if s.Len() != 0 {
		t.Fatalf("expected empty store after reset, got %d", s.Len())
	}
	// Counter keeps increasing so ids stay unique across resets
	if got := s.NextID(); got == "req_1" {
		t.Fatal("expected counter to survive reset")
	}
}
