package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newKeySetJSON はテスト用のRSA公開鍵を1つ含む鍵セットのJSONを生成する。
func newKeySetJSON(t *testing.T, kid string) []byte {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("RSA鍵の生成に失敗: %v", err)
	}
	key, err := jwk.FromRaw(&priv.PublicKey)
	if err != nil {
		t.Fatalf("JWKへの変換に失敗: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("kidの設定に失敗: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("鍵セットへの追加に失敗: %v", err)
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("鍵セットのシリアライズに失敗: %v", err)
	}
	return b
}

// newKeySetServer は鍵セットを返すテストサーバーとリクエスト回数のカウンターを返す。
func newKeySetServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != WellKnownPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

// TestURLForDomain はURLForDomain関数を検証する。
func TestURLForDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		domain string
		want   string
	}{
		{name: "ドメインのみ", domain: "fsnd.us.auth0.com", want: "https://fsnd.us.auth0.com/.well-known/jwks.json"},
		{name: "スキーム付き", domain: "https://fsnd.us.auth0.com", want: "https://fsnd.us.auth0.com/.well-known/jwks.json"},
		{name: "末尾スラッシュ付き", domain: "https://fsnd.us.auth0.com/", want: "https://fsnd.us.auth0.com/.well-known/jwks.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := URLForDomain(tt.domain); got != tt.want {
				t.Errorf("URLForDomain(%q) = %q, want %q", tt.domain, got, tt.want)
			}
		})
	}
}

// TestProvider_KeySet はKeySetメソッドを検証する。
func TestProvider_KeySet(t *testing.T) {
	t.Parallel()

	t.Run("鍵セットを取得してkidで検索できること", func(t *testing.T) {
		t.Parallel()

		ts, _ := newKeySetServer(t, newKeySetJSON(t, "kid-1"))
		p := NewProvider(ts.URL + WellKnownPath)

		set, err := p.KeySet(context.Background())
		if err != nil {
			t.Fatalf("KeySet()でエラーが発生: %v", err)
		}
		if set.Len() != 1 {
			t.Errorf("Len() = %d, want 1", set.Len())
		}
		if _, ok := set.LookupKeyID("kid-1"); !ok {
			t.Error("kid-1が鍵セットに含まれていない")
		}
	})

	t.Run("キャッシュ無効の場合は呼び出しごとに再取得すること", func(t *testing.T) {
		t.Parallel()

		ts, hits := newKeySetServer(t, newKeySetJSON(t, "kid-1"))
		p := NewProvider(ts.URL + WellKnownPath)

		for range 3 {
			if _, err := p.KeySet(context.Background()); err != nil {
				t.Fatalf("KeySet()でエラーが発生: %v", err)
			}
		}
		if got := hits.Load(); got != 3 {
			t.Errorf("リクエスト回数 = %d, want 3", got)
		}
	})

	t.Run("キャッシュ有効の場合はTTL内で再取得しないこと", func(t *testing.T) {
		t.Parallel()

		ts, hits := newKeySetServer(t, newKeySetJSON(t, "kid-1"))
		p := NewProvider(ts.URL+WellKnownPath, WithCacheTTL(time.Minute))

		for range 3 {
			if _, err := p.KeySet(context.Background()); err != nil {
				t.Fatalf("KeySet()でエラーが発生: %v", err)
			}
		}
		if got := hits.Load(); got != 1 {
			t.Errorf("リクエスト回数 = %d, want 1", got)
		}
	})

	t.Run("TTL経過後は再取得すること", func(t *testing.T) {
		t.Parallel()

		ts, hits := newKeySetServer(t, newKeySetJSON(t, "kid-1"))
		p := NewProvider(ts.URL+WellKnownPath, WithCacheTTL(20*time.Millisecond))

		if _, err := p.KeySet(context.Background()); err != nil {
			t.Fatalf("KeySet()でエラーが発生: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
		if _, err := p.KeySet(context.Background()); err != nil {
			t.Fatalf("KeySet()でエラーが発生: %v", err)
		}
		if got := hits.Load(); got != 2 {
			t.Errorf("リクエスト回数 = %d, want 2", got)
		}
	})

	t.Run("サーバーエラーの場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer ts.Close()

		p := NewProvider(ts.URL)
		if _, err := p.KeySet(context.Background()); err == nil {
			t.Fatal("KeySet()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("鍵セットとして不正なJSONの場合はエラーを返すこと", func(t *testing.T) {
		t.Parallel()

		ts, _ := newKeySetServer(t, []byte(`{"keys": "not-a-list"}`))
		p := NewProvider(ts.URL + WellKnownPath)
		if _, err := p.KeySet(context.Background()); err == nil {
			t.Fatal("KeySet()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("エラーはキャッシュされないこと", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		p := NewProvider(ts.URL, WithCacheTTL(time.Minute))
		for range 2 {
			if _, err := p.KeySet(context.Background()); err == nil {
				t.Fatal("KeySet()がエラーを返すべきだが、nilが返った")
			}
		}
		if got := hits.Load(); got != 2 {
			t.Errorf("リクエスト回数 = %d, want 2", got)
		}
	})

	t.Run("URLが保持されること", func(t *testing.T) {
		t.Parallel()

		p := NewProvider("https://example.com/.well-known/jwks.json")
		if p.URL() != "https://example.com/.well-known/jwks.json" {
			t.Errorf("URL() = %q", p.URL())
		}
	})
}

// TestProvider_Metrics は取得結果がカウンターに記録されることを検証する。
// カウンターはパッケージ共有のため並列実行しない。
func TestProvider_Metrics(t *testing.T) {
	ts, _ := newKeySetServer(t, newKeySetJSON(t, "kid-1"))
	p := NewProvider(ts.URL+WellKnownPath, WithCacheTTL(time.Minute))

	fetchedBefore := testutil.ToFloat64(fetchTotal.WithLabelValues("fetched"))
	cachedBefore := testutil.ToFloat64(fetchTotal.WithLabelValues("cached"))

	for range 2 {
		if _, err := p.KeySet(context.Background()); err != nil {
			t.Fatalf("KeySet()でエラーが発生: %v", err)
		}
	}

	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("fetched")) - fetchedBefore; got != 1 {
		t.Errorf("fetched = %v, want 1", got)
	}
	if got := testutil.ToFloat64(fetchTotal.WithLabelValues("cached")) - cachedBefore; got != 1 {
		t.Errorf("cached = %v, want 1", got)
	}
}
