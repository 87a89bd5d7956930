package proxy

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/rules"
)

// Session is the filtering state of a single proxied request.  The request is
// evaluated twice at most:
//
//  1. When the request headers are received.  The request type is assumed
//     from the Sec-Fetch-Dest and Accept headers and the URL.
//  2. When the response headers are received, if the Content-Type header
//     shows that the assumed type was wrong.
type Session struct {
	// HTTPRequest is the proxied request.
	HTTPRequest *http.Request

	// HTTPResponse is the response, if already received.
	HTTPResponse *http.Response

	// Result is the last decision on the request.
	Result *contentblock.Result

	// ID is the session identifier.
	ID string

	// URL is the request URL.
	URL string

	// DocumentURL is the URL of the page that made the request, taken from
	// the Referer header.
	DocumentURL string

	// MediaType is the media type of the response.
	MediaType string

	// RequestType is the current assumption of the request type.
	RequestType rules.RequestType
}

// NewSession returns a new session for req.
func NewSession(id string, req *http.Request) (s *Session) {
	return &Session{
		HTTPRequest: req,
		ID:          id,
		URL:         req.URL.String(),
		DocumentURL: req.Referer(),
		RequestType: assumeRequestType(req),
	}
}

// SetResponse records the response and updates the request type from its
// Content-Type header.  It returns true if the request type has changed.
func (s *Session) SetResponse(res *http.Response) (changed bool) {
	s.HTTPResponse = res

	mediaType, _, _ := mime.ParseMediaType(res.Header.Get(httphdr.ContentType))
	s.MediaType = mediaType

	t := requestTypeFromMediaType(mediaType)
	if t == rules.TypeOther || t == s.RequestType {
		return false
	}

	if t == rules.TypeDocument && s.RequestType == rules.TypeSubdocument {
		// Frames are HTML documents as well.
		return false
	}

	s.RequestType = t

	return true
}

// assumeRequestType assumes the type of req from its headers and URL.
func assumeRequestType(req *http.Request) (t rules.RequestType) {
	if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return rules.TypeWebsocket
	}

	if t = fetchDestTypes[req.Header.Get(httphdr.SecFetchDest)]; t != 0 {
		return t
	}

	if t = requestTypeFromMediaType(req.Header.Get(httphdr.Accept)); t != rules.TypeOther {
		return t
	}

	return requestTypeFromURL(req.URL)
}

// fetchDestTypes maps the values of the Sec-Fetch-Dest header to request
// types.
var fetchDestTypes = map[string]rules.RequestType{
	"document": rules.TypeDocument,
	"iframe":   rules.TypeSubdocument,
	"frame":    rules.TypeSubdocument,
	"script":   rules.TypeScript,
	"worker":   rules.TypeScript,
	"style":    rules.TypeStylesheet,
	"image":    rules.TypeImage,
	"font":     rules.TypeFont,
	"audio":    rules.TypeMedia,
	"video":    rules.TypeMedia,
	"track":    rules.TypeMedia,
	"object":   rules.TypeObject,
	"embed":    rules.TypeObject,
}

// mediaTypePrefixes are the prefixes of media types with their request types.
// The first matching prefix wins.
var mediaTypePrefixes = []struct {
	prefix string
	typ    rules.RequestType
}{
	{"application/xhtml", rules.TypeDocument},
	{"text/html", rules.TypeDocument},
	{"text/css", rules.TypeStylesheet},
	{"application/javascript", rules.TypeScript},
	{"application/x-javascript", rules.TypeScript},
	{"text/javascript", rules.TypeScript},
	{"image/", rules.TypeImage},
	{"application/x-shockwave-flash", rules.TypeObject},
	{"application/font", rules.TypeFont},
	{"application/vnd.ms-fontobject", rules.TypeFont},
	{"application/x-font-", rules.TypeFont},
	{"font/", rules.TypeFont},
	{"audio/", rules.TypeMedia},
	{"video/", rules.TypeMedia},
	{"application/json", rules.TypeXmlhttprequest},
}

// requestTypeFromMediaType returns the request type of the media type or of
// the first media type of an Accept header value.
func requestTypeFromMediaType(mediaType string) (t rules.RequestType) {
	mediaType = strings.ToLower(mediaType)
	for _, p := range mediaTypePrefixes {
		if strings.HasPrefix(mediaType, p.prefix) {
			return p.typ
		}
	}

	return rules.TypeOther
}

// fileExtensions maps file extensions to request types.
var fileExtensions = map[string]rules.RequestType{
	".js":     rules.TypeScript,
	".mjs":    rules.TypeScript,
	".vbs":    rules.TypeScript,
	".coffee": rules.TypeScript,

	".jpg":  rules.TypeImage,
	".jpeg": rules.TypeImage,
	".gif":  rules.TypeImage,
	".png":  rules.TypeImage,
	".webp": rules.TypeImage,
	".svg":  rules.TypeImage,
	".tiff": rules.TypeImage,
	".ico":  rules.TypeImage,

	".css":  rules.TypeStylesheet,
	".less": rules.TypeStylesheet,

	".jar": rules.TypeObject,
	".swf": rules.TypeObject,

	".wav":  rules.TypeMedia,
	".mp3":  rules.TypeMedia,
	".mp4":  rules.TypeMedia,
	".avi":  rules.TypeMedia,
	".flv":  rules.TypeMedia,
	".m3u":  rules.TypeMedia,
	".webm": rules.TypeMedia,
	".mpeg": rules.TypeMedia,
	".3gp":  rules.TypeMedia,
	".ogg":  rules.TypeMedia,
	".mov":  rules.TypeMedia,
	".mkv":  rules.TypeMedia,

	".ttf":   rules.TypeFont,
	".otf":   rules.TypeFont,
	".woff":  rules.TypeFont,
	".woff2": rules.TypeFont,
	".eot":   rules.TypeFont,

	".json": rules.TypeXmlhttprequest,
}

// requestTypeFromURL assumes the request type from the file extension.
func requestTypeFromURL(u *url.URL) (t rules.RequestType) {
	t, ok := fileExtensions[strings.ToLower(path.Ext(u.Path))]
	if !ok {
		return rules.TypeOther
	}

	return t
}
