package storage

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileStoreOptions{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/assets",
		SignKey:  "test-sign-key",
		CDNBase:  "https://cdn.example.com",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := store.Put(ctx, "generations/g1/output_0.png", []byte("bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if key != "generations/g1/output_0.png" {
		t.Fatalf("unexpected key %q", key)
	}
	data, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "bytes" {
		t.Fatalf("round trip mismatch: %q", data)
	}
}

func TestPutRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Put(context.Background(), "../../etc/passwd", []byte("x")); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := store.Put(context.Background(), "   ", []byte("x")); err == nil {
		t.Fatal("expected empty key rejection")
	}
}

func TestSignedURLVerifies(t *testing.T) {
	store := newTestStore(t)
	signed, err := store.SignedURL("generations/g1/out.png", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parsed, err := url.Parse(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	key := strings.TrimPrefix(parsed.Path, "/assets/")
	q := parsed.Query()
	if err := store.signer.Verify(key, q.Get("expires"), q.Get("sig"), time.Now()); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSignedURLExpiryAndTamper(t *testing.T) {
	signer, err := NewURLSigner("http://localhost/assets", "key")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	exp := time.Now().Add(time.Minute)
	expStr := signer.Sign("k.png", exp)
	q := mustQuery(t, expStr)

	if err := signer.Verify("k.png", q.Get("expires"), q.Get("sig"), exp.Add(time.Hour)); err == nil {
		t.Fatal("expected expiry failure")
	}
	if err := signer.Verify("other.png", q.Get("expires"), q.Get("sig"), time.Now()); err == nil {
		t.Fatal("expected signature mismatch for other key")
	}
	if err := signer.Verify("k.png", q.Get("expires"), "deadbeef", time.Now()); err == nil {
		t.Fatal("expected signature mismatch for forged sig")
	}
}

func TestCDNURL(t *testing.T) {
	store := newTestStore(t)
	if got := store.CDNURL("generations/g1/out.png"); got != "https://cdn.example.com/generations/g1/out.png" {
		t.Fatalf("got %q", got)
	}
	noCDN, err := NewFileStore(FileStoreOptions{BasePath: t.TempDir(), BaseURL: "http://l/assets", SignKey: "k"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if got := noCDN.CDNURL("k.png"); got != "" {
		t.Fatalf("expected empty CDN URL, got %q", got)
	}
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return parsed.Query()
}
