package verifier

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Mtls-Clientcert") == "" {
			t.Error("expected X-Mtls-Clientcert header")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"uid":"client-42"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	uid, err := c.Verify([]byte("fake-der-cert"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if uid != "client-42" {
		t.Fatalf("uid = %q, want client-42", uid)
	}
}

func TestVerifyRejectedSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"bad cert"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Verify([]byte("fake-der-cert"))
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "bad cert") {
		t.Fatalf("error %q does not surface verifier message", err)
	}
}

func TestVerifyEmptyUIDIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"uid":""}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Verify([]byte("fake-der-cert")); err == nil {
		t.Fatal("expected error for empty uid")
	}
}
