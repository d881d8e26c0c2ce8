package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func expvarStub() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{
			"Version": 400,
			"LiveSessions": 3,
			"TotalSessions": 17,
			"RoutedMessagesTotal": 254,
			"memstats": {"Alloc": 1048576}
		}`))
	}))
}

func TestCollectRaw(t *testing.T) {
	srv := expvarStub()
	defer srv.Close()

	s := Scraper{
		address: srv.URL,
		metrics: []string{"LiveSessions", "TotalSessions", "RoutedMessagesTotal", "memstats.Alloc"},
	}

	metrics, err := s.CollectRaw()
	if err != nil {
		t.Fatal(err)
	}

	expected := map[string]float64{
		"LiveSessions":        3,
		"TotalSessions":       17,
		"RoutedMessagesTotal": 254,
		"memstats.Alloc":      1048576,
		"up":                  1,
	}
	for k, want := range expected {
		if got := metrics[k]; got != want {
			t.Errorf("%s: expected %f, got %f", k, want, got)
		}
	}
}

func TestMissingKeyReadsAsZero(t *testing.T) {
	srv := expvarStub()
	defer srv.Close()

	s := Scraper{address: srv.URL, metrics: []string{"NoSuchCounter"}}
	metrics, err := s.CollectRaw()
	if err != nil {
		t.Fatal(err)
	}
	if got := metrics["NoSuchCounter"]; got != 0 {
		t.Errorf("missing key: expected 0, got %f", got)
	}
}
