package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/escrow-tf/tradeoffers/store"
	"go.uber.org/zap"
)

// CacheAdaptor stores serialized responses. Get returns store.ErrNotFound on a miss. store/redisstore
// provides one.
type CacheAdaptor interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type cacheTtlKey struct{}

// ContextWithCachingTtl marks the requests made with ctx as cacheable for ttl.
func ContextWithCachingTtl(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheTtlKey{}, ttl)
}

// cachingTransport serves GET requests marked with ContextWithCachingTtl from a CacheAdaptor, storing the
// full response dump of every 2xx answer that steam did not flag with a failing X-Eresult.
type cachingTransport struct {
	next   http.RoundTripper
	cache  CacheAdaptor
	logger *zap.Logger
}

func newCachingTransport(next http.RoundTripper, cache CacheAdaptor, logger *zap.Logger) http.RoundTripper {
	return &cachingTransport{next: next, cache: cache, logger: logger}
}

func (c *cachingTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.Method != http.MethodGet {
		return c.next.RoundTrip(request)
	}

	ctx := request.Context()
	ttl, _ := ctx.Value(cacheTtlKey{}).(time.Duration)
	if ttl <= 0 {
		return c.next.RoundTrip(request)
	}

	key := responseCacheKey(request.URL)
	if response, ok := c.lookup(ctx, key, request); ok {
		return response, nil
	}

	response, err := c.next.RoundTrip(request)
	if err != nil {
		return nil, err
	}
	if !cacheable(response) {
		return response, nil
	}

	dump, err := httputil.DumpResponse(response, true)
	if err != nil {
		c.logger.Debug("could not dump response for caching", zap.Error(err))
		return response, nil
	}
	if err := c.cache.Set(ctx, key, string(dump), ttl); err != nil {
		c.logger.Debug("error caching response", zap.String("key", key), zap.Error(err))
	}
	return response, nil
}

func (c *cachingTransport) lookup(ctx context.Context, key string, request *http.Request) (*http.Response, bool) {
	cached, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Debug("response cache unavailable", zap.Error(err))
		}
		return nil, false
	}

	response, err := http.ReadResponse(bufio.NewReader(bytes.NewReader([]byte(cached))), request)
	if err != nil {
		c.logger.Debug("discarding unreadable cached response", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return response, true
}

func cacheable(response *http.Response) bool {
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return false
	}
	eResult := response.Header.Get("X-Eresult")
	return eResult == "" || eResult == "1"
}

// responseCacheKey hashes the url without its api key, so the key never reaches the cache.
func responseCacheKey(requestUrl *url.URL) string {
	stripped := *requestUrl
	query := stripped.Query()
	query.Del("key")
	stripped.RawQuery = query.Encode()
	return "resp_" + strconv.FormatUint(xxhash.Sum64String(stripped.String()), 16)
}
