package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/escrow-tf/tradeoffers/steamlang"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//goland:noinspection GoUnusedConst
const JsonContentType = "application/json"
const FormContentType = "application/x-www-form-urlencoded"

const (
	BaseURL      = "https://api.steampowered.com"
	CommunityURL = "https://steamcommunity.com"
)

const defaultRetryMax = 3

type Request interface {
	Retryable() bool
	CacheTTL() time.Duration
	RequiresApiKey() bool
	Method() string
	Url() string
	Values() (url.Values, error)
	Headers() (http.Header, error)
	EnsureResponseSuccess(httpResponse *http.Response) error
}

type Transport interface {
	CookieJar() http.CookieJar
	Send(ctx context.Context, request Request, response any) error
	HttpClient() *http.Client
}

type HttpTransport struct {
	webApiKey   string
	client      *http.Client
	retryClient *retryablehttp.Client
	logger      *zap.Logger
}

type HttpTransportOptions struct {
	WebApiKey string
	// ResponseCache is optional. Only requests with a CacheTTL are cached.
	ResponseCache CacheAdaptor
	RetryMax      int
	Logger        *zap.Logger
	// RoundTripper replaces the pooled default transport, mostly for tests.
	RoundTripper http.RoundTripper
}

func NewTransport(options HttpTransportOptions) *HttpTransport {
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}
	if options.RetryMax <= 0 {
		options.RetryMax = defaultRetryMax
	}
	if options.RoundTripper == nil {
		options.RoundTripper = cleanhttp.DefaultPooledTransport()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		panic("Failed to create cookie jar, which should never happen as cookiejar.New does not return any errors")
	}

	cookieUrl := &url.URL{Scheme: "https", Host: "steamcommunity.com", Path: "/"}
	jar.SetCookies(cookieUrl, []*http.Cookie{
		{
			Name:  "mobileClient",
			Value: "android",
		},
		{
			Name:  "mobileClientVersion",
			Value: "777777 3.0.0",
		},
	})

	roundTripper := options.RoundTripper
	if options.ResponseCache != nil {
		roundTripper = newCachingTransport(roundTripper, options.ResponseCache, options.Logger)
	}

	httpClient := &http.Client{
		Transport: roundTripper,
		Jar:       jar,
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = options.RetryMax
	retryClient.Logger = retryLogger{options.Logger.Sugar()}

	return &HttpTransport{
		webApiKey:   options.WebApiKey,
		client:      httpClient,
		retryClient: retryClient,
		logger:      options.Logger,
	}
}

func (c *HttpTransport) CookieJar() http.CookieJar {
	return c.client.Jar
}

// Send sends a specialized HTTP Request to steam and decodes the JSON response into response, unless it is
// nil. Every error it returns is an *Error.
func (c *HttpTransport) Send(ctx context.Context, request Request, response any) error {
	httpMethod := request.Method()
	op := httpMethod + " " + operationName(request.Url())

	requestValues, valuesErr := request.Values()
	if valuesErr != nil {
		return NewError(RejectedKind, op, valuesErr)
	}

	requestUrl := request.Url()
	if request.RequiresApiKey() {
		if requestValues == nil {
			requestValues = make(url.Values)
		}
		requestValues.Add("key", c.webApiKey)
	}

	var httpBody io.Reader
	if requestValues != nil {
		if httpMethod == http.MethodGet {
			requestUrl += "?" + requestValues.Encode()
		} else {
			httpBody = strings.NewReader(requestValues.Encode())
		}
	}

	if ttl := request.CacheTTL(); ttl > 0 {
		ctx = ContextWithCachingTtl(ctx, ttl)
	}

	httpRequest, httpRequestErr := http.NewRequestWithContext(ctx, httpMethod, requestUrl, httpBody)
	if httpRequestErr != nil {
		return NewError(RejectedKind, op, httpRequestErr)
	}

	httpRequest.Header.Add("Accept", JsonContentType)
	httpRequest.Header.Add("User-Agent", "okhttp/3.12.12")
	if httpMethod == http.MethodPost {
		httpRequest.Header.Add("Content-Type", FormContentType)
	}

	headers, headersErr := request.Headers()
	if headersErr != nil {
		return NewError(RejectedKind, op, headersErr)
	}

	for headerKey, headerValues := range headers {
		for _, headerValue := range headerValues {
			httpRequest.Header.Add(headerKey, headerValue)
		}
	}

	httpClient := c.client
	if request.Retryable() {
		httpClient = c.retryClient.StandardClient()
	}

	started := time.Now()
	httpResponse, httpResponseErr := httpClient.Do(httpRequest)
	if httpResponseErr != nil {
		if errors.Is(httpResponseErr, context.Canceled) {
			return NewError(RejectedKind, op, httpResponseErr)
		}
		return NewError(TransientKind, op, eris.Wrap(httpResponseErr, "request to Steam failed"))
	}

	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Debug("error closing steam response body", zap.Error(err))
		}
	}(httpResponse.Body)

	c.logger.Debug("steam request",
		zap.String("op", op),
		zap.Int("status", httpResponse.StatusCode),
		zap.Duration("took", time.Since(started)),
	)

	if err := request.EnsureResponseSuccess(httpResponse); err != nil {
		return classified(op, err)
	}

	if err := steamlang.EnsureEResultResponse(httpResponse); err != nil {
		return classified(op, err)
	}

	if response != nil {
		responseBody, err := io.ReadAll(httpResponse.Body)
		if err != nil {
			return NewError(TransientKind, op, eris.Wrap(err, "couldn't read response"))
		}

		err = json.Unmarshal(responseBody, response)
		if err != nil {
			return NewError(MalformedKind, op, eris.Wrap(err, "couldn't unmarshal response"))
		}
	}

	return nil
}

func (c *HttpTransport) HttpClient() *http.Client {
	return c.client
}

// classified keeps errors that requests already classified themselves.
func classified(op string, err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return err
	}
	return NewError(Classify(err), op, err)
}

// operationName strips the query from a request url, so api keys and signatures never end up in errors or
// logs.
func operationName(rawUrl string) string {
	parsed, err := url.Parse(rawUrl)
	if err != nil {
		return "request"
	}
	return parsed.Host + parsed.Path
}

// retryLogger routes go-retryablehttp's logging through zap.
type retryLogger struct {
	sugar *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l retryLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Debug(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l retryLogger) Warn(msg string, keysAndValues ...any) {
	l.sugar.Warnw(msg, keysAndValues...)
}
