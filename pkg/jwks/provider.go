package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/fsnd/pkg/httpclient"
)

// WellKnownPath は鍵セットが公開される既定のパス。
const WellKnownPath = "/.well-known/jwks.json"

// fetchTotal は鍵セット取得の結果を数えるカウンター。
var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "jwks_fetch_total",
	Help: "JSON Web Key Setの取得回数（result: fetched, cached, error）。",
}, []string{"result"})

// URLForDomain は発行者ドメインから鍵セットのURLを組み立てる。
func URLForDomain(domain string) string {
	domain = strings.TrimSuffix(strings.TrimPrefix(domain, "https://"), "/")
	return "https://" + domain + WellKnownPath
}

// Provider は鍵セットを取得する。複数のゴルーチンから同時に使用できる。
type Provider struct {
	// client は鍵セットURLへのHTTPクライアント。
	client *httpclient.Client
	// url は鍵セットのURL。
	url string
	// ttl はキャッシュの有効期間。0の場合はキャッシュしない。
	ttl time.Duration
	// cache は取得済みの鍵セット。ttlが0の場合はnil。
	cache *gocache.Cache
}

// Option はProviderの設定を変更する関数。
type Option func(*providerOptions)

type providerOptions struct {
	ttl     time.Duration
	timeout time.Duration
}

// WithCacheTTL は取得した鍵セットをttlの間キャッシュする。
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *providerOptions) { o.ttl = ttl }
}

// WithTimeout は鍵セット取得のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(o *providerOptions) { o.timeout = d }
}

// NewProvider はurlから鍵セットを取得するProviderを生成する。
func NewProvider(url string, opts ...Option) *Provider {
	var o providerOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := &Provider{
		client: httpclient.New(url, httpclient.WithTimeout(o.timeout)),
		url:    url,
	}
	if o.ttl > 0 {
		p.ttl = o.ttl
		p.cache = gocache.New(o.ttl, 2*o.ttl)
	}
	return p
}

// URL は鍵セットの取得先を返す。
func (p *Provider) URL() string {
	return p.url
}

// KeySet は現在の鍵セットを返す。
// キャッシュが無効な場合は毎回ネットワークから取得する。
func (p *Provider) KeySet(ctx context.Context) (jwk.Set, error) {
	if p.cache != nil {
		if v, ok := p.cache.Get(p.url); ok {
			if set, ok := v.(jwk.Set); ok {
				fetchTotal.WithLabelValues("cached").Inc()
				return set, nil
			}
		}
	}

	set, err := p.fetch(ctx)
	if err != nil {
		fetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	fetchTotal.WithLabelValues("fetched").Inc()

	if p.cache != nil {
		p.cache.Set(p.url, set, p.ttl)
	}
	return set, nil
}

// fetch は鍵セットをネットワークから取得してパースする。
func (p *Provider) fetch(ctx context.Context) (jwk.Set, error) {
	var raw json.RawMessage
	if err := p.client.GetJSON(ctx, "", &raw); err != nil {
		return nil, fmt.Errorf("鍵セットの取得に失敗 (%s): %w", p.url, err)
	}

	set, err := jwk.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("鍵セットのパースに失敗 (%s): %w", p.url, err)
	}
	return set, nil
}
