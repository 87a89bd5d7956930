package proxy

import (
	"net/http"

	"github.com/AdguardTeam/gomitmproxy"
	"github.com/otterbrowser/contentblock/rules"
)

// onRequest handles the outgoing HTTP requests.
func (s *Server) onRequest(sess *gomitmproxy.Session) (req *http.Request, res *http.Response) {
	r := sess.Request()
	if r.Method == http.MethodConnect {
		// Do nothing for CONNECT requests.
		return nil, nil
	}

	session := s.newSession(sess.ID(), r)
	sess.SetProp(sessionPropKey, session)

	res = s.filterRequest(session)
	if res != nil {
		// Mark the request as blocked so that onResponse skips it.
		sess.SetProp(requestBlockedKey, true)

		return nil, res
	}

	return r, nil
}

// onResponse handles the responses.  Requests whose type turns out to differ
// from the assumed one are evaluated again.
func (s *Server) onResponse(sess *gomitmproxy.Session) (res *http.Response) {
	if _, ok := sess.GetProp(requestBlockedKey); ok {
		return nil
	}

	v, ok := sess.GetProp(sessionPropKey)
	if !ok {
		s.logger.Error("session not found", "id", sess.ID())

		return nil
	}

	session, ok := v.(*Session)
	if !ok {
		s.logger.Error("session has bad type", "id", sess.ID(), "type", v)

		return nil
	}

	if !session.SetResponse(sess.Response()) {
		return nil
	}

	return s.filterRequest(session)
}

// newSession returns the session of r.  A top-level navigation starts the page
// anew, so the blocked counter of the page is reset.
func (s *Server) newSession(id string, r *http.Request) (session *Session) {
	session = NewSession(id, r)
	if session.RequestType == rules.TypeDocument {
		s.evaluator.ResetPage(session.URL)
	}

	return session
}

// filterRequest evaluates the request of session and returns the response
// that replaces the blocked one, or nil.
func (s *Server) filterRequest(session *Session) (res *http.Response) {
	result := s.evaluator.ShouldBlock(session.URL, session.DocumentURL, session.RequestType)
	session.Result = result
	if !result.Blocked {
		return nil
	}

	s.logger.Debug(
		"request blocked",
		"id", session.ID,
		"url", session.URL,
		"profile", result.ProfileID,
		"user_exception", result.UserException,
	)

	return newBlockedResponse(session)
}
