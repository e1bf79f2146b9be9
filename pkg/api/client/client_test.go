package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReportMultiSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"travis-ci":{"rates":{"2024-05-01T08:05:00-04:00":2,"2024-05-01T08:00:00-04:00":1},"total":3,"repos":{"a/b":1,"x/y":2}},"github-actions":{"rates":{},"total":0,"repos":{}}}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	rep, err := cli.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	travis, ok := rep["travis-ci"]
	if !ok || travis.Total != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	points := travis.Points()
	if len(points) != 2 || points[0].Count != 1 || points[1].Count != 2 {
		t.Fatalf("expected oldest first, got %+v", points)
	}
	top := travis.TopRepos(1)
	if len(top) != 1 || top[0].Repo != "x/y" {
		t.Fatalf("unexpected top repos %+v", top)
	}
}

func TestReportSingleSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rates":{"2024-05-01T08:00:00-04:00":5},"total":5,"repos":{"x/y":5}}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	rep, err := cli.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rep) != 1 || rep[""].Total != 5 || rep[""].Repos["x/y"] != 5 {
		t.Fatalf("unexpected report %+v", rep)
	}
}

func TestReportSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"unknown source: circleci"}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	_, err := cli.ReportSource(context.Background(), "circleci")
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "unknown source: circleci" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReloadSendsAdminToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Admin-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"shape":"keyed","duration_ms":12,"sources":{"travis-ci":{"repos":2,"rates":3,"skipped":0}}}`))
	}))
	defer srv.Close()

	cli, _ := New(srv.URL)
	res, err := cli.Reload(context.Background(), " tok ")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if res.Shape != "keyed" || res.Sources["travis-ci"].Rates != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	cli, err := New("localhost:5000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cli.baseURL != "http://localhost:5000" {
		t.Fatalf("unexpected base url %q", cli.baseURL)
	}
}
