package update

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
)

const (
	// ErrTransport is wrapped by *FetchError for connection, status, and I/O
	// problems.
	ErrTransport errors.Error = "transport error"

	// ErrTimeout is wrapped by *FetchError when the fetch timed out.
	ErrTimeout errors.Error = "fetch timed out"

	// ErrTooLarge is returned when the list is larger than the limit.
	ErrTooLarge errors.Error = "list is too large"
)

// Default fetcher values.
const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxSize      = 50 * 1024 * 1024
)

// FetchErrorKind is the kind of a fetch failure.
type FetchErrorKind uint8

// FetchErrorKind values.
const (
	FetchErrorTransport FetchErrorKind = iota
	FetchErrorTimeout
)

// FetchError is returned by fetchers.
type FetchError struct {
	// Err is the underlying error.
	Err error

	// Source is the source of the list.
	Source string

	// Kind is the kind of the failure.
	Kind FetchErrorKind
}

// type check
var _ error = (*FetchError)(nil)

// Error implements the error interface for *FetchError.
func (err *FetchError) Error() (msg string) {
	return fmt.Sprintf("fetching %q: %s: %s", err.Source, err.sentinel(), err.Err)
}

// Unwrap implements the [errors.WrapperSlice] interface for *FetchError.  It
// returns [ErrTransport] or [ErrTimeout] along with the underlying error.
func (err *FetchError) Unwrap() (errs []error) {
	return []error{err.sentinel(), err.Err}
}

// sentinel returns the sentinel error of the kind.
func (err *FetchError) sentinel() (sentinel errors.Error) {
	if err.Kind == FetchErrorTimeout {
		return ErrTimeout
	}

	return ErrTransport
}

// FetchRequest is a request to fetch a list.
type FetchRequest struct {
	// Source is a local path or a file, HTTP, or HTTPS URL.
	Source string

	// ETag is the entity tag of the previously fetched content, if any.
	ETag string

	// LastModified is the Last-Modified value of the previously fetched
	// content, if any.
	LastModified string
}

// FetchResult is the result of a successful fetch.
type FetchResult struct {
	// Data is the content of the list.  It is nil if NotModified is true.
	Data []byte

	// ETag is the new entity tag, if any.
	ETag string

	// LastModified is the new Last-Modified value, if any.
	LastModified string

	// NotModified is true if the server reported that the content hasn't
	// changed since the previous fetch.
	NotModified bool
}

// Fetcher retrieves list content.
type Fetcher interface {
	// Fetch retrieves the list.  err must be a *FetchError unless the context
	// is canceled.
	Fetch(ctx context.Context, req *FetchRequest) (res *FetchResult, err error)
}

// DefaultFetcherConfig is the configuration structure for a *DefaultFetcher.
type DefaultFetcherConfig struct {
	// Client is used for HTTP requests.  If nil, a new client is used.
	Client *http.Client

	// UserAgent is sent in HTTP requests, if not empty.
	UserAgent string

	// Timeout is the timeout of a single fetch.  If zero,
	// [DefaultFetchTimeout] is used.
	Timeout time.Duration

	// MaxSize is the maximum size of a list, in bytes.  If zero,
	// [DefaultMaxSize] is used.
	MaxSize int64
}

// DefaultFetcher fetches lists over HTTP(S) and from the file system.
type DefaultFetcher struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	maxSize   int64
}

// type check
var _ Fetcher = (*DefaultFetcher)(nil)

// NewDefaultFetcher returns a new properly initialized *DefaultFetcher.  c
// must not be nil.
func NewDefaultFetcher(c *DefaultFetcherConfig) (f *DefaultFetcher) {
	f = &DefaultFetcher{
		client:    c.Client,
		userAgent: c.UserAgent,
		timeout:   c.Timeout,
		maxSize:   c.MaxSize,
	}

	if f.client == nil {
		f.client = &http.Client{}
	}

	if f.timeout <= 0 {
		f.timeout = DefaultFetchTimeout
	}

	if f.maxSize <= 0 {
		f.maxSize = DefaultMaxSize
	}

	return f
}

// Fetch implements the [Fetcher] interface for *DefaultFetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, req *FetchRequest) (res *FetchResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if strings.HasPrefix(req.Source, "http://") || strings.HasPrefix(req.Source, "https://") {
		res, err = f.fetchHTTP(ctx, req)
	} else {
		res, err = f.fetchFile(ctx, req.Source)
	}

	if err != nil {
		return nil, f.wrapError(ctx, req.Source, err)
	}

	return res, nil
}

// wrapError converts err into a *FetchError unless the parent context has
// been canceled.
func (f *DefaultFetcher) wrapError(ctx context.Context, src string, err error) (wrapped error) {
	if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		return err
	}

	kind := FetchErrorTransport
	if isTimeout(err) {
		kind = FetchErrorTimeout
	}

	return &FetchError{
		Err:    err,
		Source: src,
		Kind:   kind,
	}
}

// isTimeout returns true if err is a deadline or a network timeout.
func isTimeout(err error) (ok bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// fetchHTTP performs a conditional GET request.
func (f *DefaultFetcher) fetchHTTP(ctx context.Context, fr *FetchRequest) (res *FetchResult, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.Source, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if f.userAgent != "" {
		req.Header.Set(httphdr.UserAgent, f.userAgent)
	}

	if fr.ETag != "" {
		req.Header.Set(httphdr.IfNoneMatch, fr.ETag)
	}

	if fr.LastModified != "" {
		req.Header.Set(httphdr.IfModifiedSince, fr.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, resp.Body.Close()) }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Go on.
	case http.StatusNotModified:
		return &FetchResult{
			ETag:         resp.Header.Get(httphdr.ETag),
			LastModified: resp.Header.Get(httphdr.LastModified),
			NotModified:  true,
		}, nil
	default:
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	data, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Data:         data,
		ETag:         resp.Header.Get(httphdr.ETag),
		LastModified: resp.Header.Get(httphdr.LastModified),
	}, nil
}

// fetchFile reads a local path or a file URL.
func (f *DefaultFetcher) fetchFile(ctx context.Context, src string) (res *FetchResult, err error) {
	path := src
	if strings.HasPrefix(src, "file://") {
		var u *url.URL
		u, err = url.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("parsing file url: %w", err)
		}

		path = u.Path
	}

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, file.Close()) }()

	data, err := f.readLimited(file)
	if err != nil {
		return nil, err
	}

	return &FetchResult{
		Data: data,
	}, nil
}

// readLimited reads r fully, failing if there are more than f.maxSize bytes.
func (f *DefaultFetcher) readLimited(r io.Reader) (data []byte, err error) {
	data, err = io.ReadAll(io.LimitReader(r, f.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, f.maxSize)
	}

	return data, nil
}
