package rules

import (
	"fmt"
	"math/bits"
	"net/netip"
	"strings"

	"github.com/otterbrowser/contentblock/internal/ufnet"
)

// maxURLLength limits the URL length by 4 KiB.  It appears that there can be
// URLs longer than a megabyte, and it makes no sense to go through the whole
// URL.
const maxURLLength = 4 * 1024

// RequestType is the request types enumeration.
type RequestType uint32

const (
	// TypeDocument (main frame) $document
	TypeDocument RequestType = 1 << iota
	// TypeSubdocument (iframe) $subdocument
	TypeSubdocument
	// TypeScript (javascript, etc) $script
	TypeScript
	// TypeStylesheet (css) $stylesheet
	TypeStylesheet
	// TypeObject (plugins) $object
	TypeObject
	// TypeImage (any image) $image
	TypeImage
	// TypeXmlhttprequest (ajax/fetch) $xmlhttprequest
	TypeXmlhttprequest
	// TypeMedia (video/music) $media
	TypeMedia
	// TypeFont (any custom font) $font
	TypeFont
	// TypeWebsocket (a websocket connection) $websocket
	TypeWebsocket
	// TypePing (navigator.sendBeacon() or ping attribute on links) $ping
	TypePing
	// TypeOther - any other request type
	TypeOther
)

// requestTypeNames maps option names to request types.  The order is the one
// used by the canonical rule representation.
var requestTypeNames = []struct {
	name string
	typ  RequestType
}{
	{"document", TypeDocument},
	{"subdocument", TypeSubdocument},
	{"script", TypeScript},
	{"stylesheet", TypeStylesheet},
	{"object", TypeObject},
	{"image", TypeImage},
	{"xmlhttprequest", TypeXmlhttprequest},
	{"media", TypeMedia},
	{"font", TypeFont},
	{"websocket", TypeWebsocket},
	{"ping", TypePing},
	{"other", TypeOther},
}

// requestTypeAliases are the alternative option names accepted by parsers of
// other list flavors.
var requestTypeAliases = map[string]RequestType{
	"xhr":   TypeXmlhttprequest,
	"css":   TypeStylesheet,
	"frame": TypeSubdocument,
	"doc":   TypeDocument,
}

// ParseRequestType returns the request type for its option name, e.g.
// "script".
func ParseRequestType(name string) (t RequestType, err error) {
	name = strings.ToLower(name)
	for _, n := range requestTypeNames {
		if n.name == name {
			return n.typ, nil
		}
	}

	if t, ok := requestTypeAliases[name]; ok {
		return t, nil
	}

	return 0, fmt.Errorf("unknown request type %q", name)
}

// String implements the [fmt.Stringer] interface for RequestType.  Multiple
// flags are joined with "|".
func (t RequestType) String() (s string) {
	var names []string
	for _, n := range requestTypeNames {
		if t&n.typ != 0 {
			names = append(names, n.name)
		}
	}

	return strings.Join(names, "|")
}

// Count returns the count of the enabled flags.
func (t RequestType) Count() int {
	return bits.OnesCount32(uint32(t))
}

// Request represents a web filtering request with all its necessary
// properties.  It must not be modified after it has been passed to a matcher.
type Request struct {
	// URL is the full request URL.
	URL string

	// URLLowerCase is the full request URL in lower case.
	URLLowerCase string

	// Hostname is the lowercased hostname of the request URL.
	Hostname string

	// Domain is the effective top-level domain of the request with an
	// additional label.
	Domain string

	// SourceURL is the URL of the document that issued the request.  It may
	// be a bare hostname.
	SourceURL string

	// SourceHostname is the lowercased hostname of the source.
	SourceHostname string

	// SourceDomain is the effective top-level domain of the source with an
	// additional label.
	SourceDomain string

	// RequestType is the type of the filtering request.
	RequestType RequestType

	// ThirdParty is true if the request and its source belong to different
	// registrable domains.
	ThirdParty bool
}

// NewRequest creates a new instance of Request and populates its fields.
// sourceURL is either the full URL of the document or its hostname; it may be
// empty for top-level navigations.
func NewRequest(url, sourceURL string, requestType RequestType) (r *Request) {
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}

	if len(sourceURL) > maxURLLength {
		sourceURL = sourceURL[:maxURLLength]
	}

	urlLower := strings.ToLower(url)
	r = &Request{
		RequestType: requestType,

		URL:          url,
		URLLowerCase: urlLower,
		Hostname:     ufnet.ExtractHostname(urlLower),

		SourceURL:      sourceURL,
		SourceHostname: strings.ToLower(ufnet.ExtractHostname(sourceURL)),
	}

	r.Domain = domainOrHostname(r.Hostname)
	r.SourceDomain = domainOrHostname(r.SourceHostname)
	r.ThirdParty = r.SourceDomain != "" && r.SourceDomain != r.Domain

	return r
}

// domainOrHostname returns the eTLD+1 of hostname or hostname itself, if it
// has none, which is the case for IP addresses and single-label names.
func domainOrHostname(hostname string) (domain string) {
	if _, err := netip.ParseAddr(strings.Trim(hostname, "[]")); err == nil {
		return hostname
	}

	if domain = ufnet.EffectiveTLDPlusOne(hostname); domain != "" {
		return domain
	}

	return hostname
}
