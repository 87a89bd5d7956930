package proxy

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/gomitmproxy/proxyutil"
	"github.com/otterbrowser/contentblock/rules"
)

// blockedPageTmpl is the page shown instead of a blocked document.
var blockedPageTmpl = template.Must(template.New("blocked").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Blocked</title></head>
<body>
<h1>Request to {{.Hostname}} blocked</h1>
{{if .RuleText}}<p>Rule: <code>{{.RuleText}}</code>{{if .ProfileID}} from <b>{{.ProfileID}}</b>{{end}}</p>
{{else}}<p>The domain is on your block list.</p>
{{end}}</body>
</html>
`))

// blockedPageParameters are the parameters of blockedPageTmpl.
type blockedPageParameters struct {
	Hostname  string
	RuleText  string
	ProfileID string
}

// buildBlockedPage returns the page shown instead of the blocked document of
// session.
func buildBlockedPage(session *Session) (page []byte, err error) {
	params := &blockedPageParameters{
		Hostname: session.HTTPRequest.URL.Hostname(),
	}

	if res := session.Result; res != nil && res.Rule != nil {
		params.RuleText = res.Rule.Text()
		params.ProfileID = res.ProfileID
	}

	buf := &bytes.Buffer{}
	err = blockedPageTmpl.Execute(buf, params)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// newBlockedResponse returns the response to the blocked request of session.
// Documents get a page describing the block, other requests get an empty
// body.
func newBlockedResponse(session *Session) (res *http.Response) {
	r := session.HTTPRequest
	if session.RequestType != rules.TypeDocument && session.RequestType != rules.TypeSubdocument {
		res = proxyutil.NewResponse(http.StatusForbidden, nil, r)
		res.Close = true

		return res
	}

	page, err := buildBlockedPage(session)
	if err != nil {
		return proxyutil.NewErrorResponse(r, err)
	}

	res = proxyutil.NewResponse(http.StatusForbidden, bytes.NewReader(page), r)
	res.Close = true
	res.ContentLength = int64(len(page))
	res.Header.Set(httphdr.ContentType, "text/html; charset=utf-8")

	return res
}
