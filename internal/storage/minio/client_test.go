package minio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// s3Stub answers the minimal S3 surface Put touches: the bucket location
// lookup and the object put itself.
type s3Stub struct {
	puts    atomic.Int32
	putCode int
}

func (s *s3Stub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Query().Has("location") {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></LocationConstraint>`))
		return
	}
	if r.Method == http.MethodPut {
		s.puts.Add(1)
		if s.putCode != 0 {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(s.putCode)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied.</Message><Resource>` + r.URL.Path + `</Resource><RequestId>1</RequestId></Error>`))
			return
		}
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Error(w, "unexpected request "+r.Method+" "+r.URL.String(), http.StatusNotImplemented)
}

func newStubClient(t *testing.T, stub *s3Stub) *Client {
	t.Helper()
	ts := httptest.NewServer(stub)
	t.Cleanup(ts.Close)

	client, err := NewClient(Config{
		Endpoint:  strings.TrimPrefix(ts.URL, "http://"),
		AccessKey: "test-access",
		SecretKey: "test-secret",
		Bucket:    "expense-exports",
		UseSSL:    false,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestPutReturnsPresignedURL(t *testing.T) {
	stub := &s3Stub{}
	client := newStubClient(t, stub)

	url, err := client.Put(context.Background(), "zhangsan-BX-1-20240305T093000.xlsx", []byte("workbook"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.Contains(url, "zhangsan-BX-1-20240305T093000.xlsx") {
		t.Fatalf("url does not reference the object: %q", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") {
		t.Fatalf("url is not presigned: %q", url)
	}
	if got := stub.puts.Load(); got != 1 {
		t.Fatalf("put requests = %d, want 1", got)
	}
}

func TestPutFailureUploadsNothingDurable(t *testing.T) {
	stub := &s3Stub{putCode: http.StatusForbidden}
	client := newStubClient(t, stub)

	if _, err := client.Put(context.Background(), "a.xlsx", []byte("workbook")); err == nil {
		t.Fatalf("expected put failure")
	}
	// the presign happened before the upload, so the failed call left no
	// object the retry's fresh name would orphan
	if got := stub.puts.Load(); got != 1 {
		t.Fatalf("put requests = %d, want 1", got)
	}
}
