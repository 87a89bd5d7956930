package contentblock

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/otterbrowser/contentblock/internal/ufnet"
	"github.com/otterbrowser/contentblock/rules"
)

// BlockedFunc is called for every blocked request.  page is the document URL
// the request was made from, total is the number of requests blocked on that
// page so far.  It must not block.
type BlockedFunc func(page string, total int64, res *Result)

// EvaluatorConfig is the configuration structure for an *Evaluator.
type EvaluatorConfig struct {
	// Logger is used for debug logging of decisions.  It must not be nil.
	Logger *slog.Logger

	// Store is the source of the compiled profiles.  It must not be nil.
	Store *ProfileStore

	// OnBlocked, if not nil, is called for every blocked request.
	OnBlocked BlockedFunc

	// AlwaysAccept are the domains of the sites on which nothing is blocked.
	AlwaysAccept []string

	// AlwaysReject are the domains to which all requests are blocked.
	AlwaysReject []string

	// Enabled is the initial state of the global switch.
	Enabled bool
}

// Result is the decision on a single request.
type Result struct {
	// Rule is the block rule, if any.
	Rule *rules.NetworkRule

	// Exception is the exception rule that overrode Rule, if any.
	Exception *rules.NetworkRule

	// ProfileID is the ID of the profile the block rule came from.
	ProfileID string

	// Checked is the number of candidate rules the request was verified
	// against.
	Checked int

	// Decision is the outcome of the filter rules.
	Decision Decision

	// Blocked is true if the request must not be loaded.
	Blocked bool

	// UserException is true if the decision was made by the user exception
	// lists.
	UserException bool
}

// userExceptions are the user-defined domain lists.
type userExceptions struct {
	accept *container.MapSet[string]
	reject *container.MapSet[string]
}

// Evaluator decides on requests using the enabled profiles of a store.  It is
// safe for concurrent use and doesn't block on profile updates.
type Evaluator struct {
	logger     *slog.Logger
	store      *ProfileStore
	onBlocked  BlockedFunc
	exceptions *atomic.Pointer[userExceptions]
	enabled    *atomic.Bool

	// pages maps page URLs to *atomic.Int64 blocked counters.
	pages *sync.Map
}

// NewEvaluator returns a new properly initialized *Evaluator.  c must not be
// nil.
func NewEvaluator(c *EvaluatorConfig) (e *Evaluator, err error) {
	e = &Evaluator{
		logger:     c.Logger,
		store:      c.Store,
		onBlocked:  c.OnBlocked,
		exceptions: &atomic.Pointer[userExceptions]{},
		enabled:    &atomic.Bool{},
		pages:      &sync.Map{},
	}

	err = e.SetUserExceptions(c.AlwaysAccept, c.AlwaysReject)
	if err != nil {
		return nil, fmt.Errorf("user exceptions: %w", err)
	}

	e.enabled.Store(c.Enabled)

	return e, nil
}

// SetEnabled turns the global switch on or off.
func (e *Evaluator) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Enabled returns the state of the global switch.
func (e *Evaluator) Enabled() (ok bool) {
	return e.enabled.Load()
}

// SetUserExceptions replaces the user exception lists.  All domains are
// validated before any of them are applied.
func (e *Evaluator) SetUserExceptions(accept, reject []string) (err error) {
	acceptSet, acceptErr := newDomainSet(accept)
	rejectSet, rejectErr := newDomainSet(reject)
	err = errors.Join(acceptErr, rejectErr)
	if err != nil {
		return err
	}

	e.exceptions.Store(&userExceptions{
		accept: acceptSet,
		reject: rejectSet,
	})

	return nil
}

// newDomainSet returns a set of the normalized domains.
func newDomainSet(domains []string) (set *container.MapSet[string], err error) {
	set = container.NewMapSet[string]()

	var errs []error
	for i, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if !ufnet.IsDomainName(d) {
			errs = append(errs, fmt.Errorf("domain at index %d: bad domain %q", i, d))

			continue
		}

		set.Add(d)
	}

	return set, errors.Join(errs...)
}

// ShouldBlock decides on the request to requestURL made from the document at
// documentURL, which may also be a bare hostname or empty.  A zero t is
// treated as [rules.TypeOther].
func (e *Evaluator) ShouldBlock(requestURL, documentURL string, t rules.RequestType) (res *Result) {
	res = &Result{}
	if !e.enabled.Load() {
		return res
	}

	if t == 0 {
		t = rules.TypeOther
	}

	req := rules.NewRequest(requestURL, documentURL, t)
	if e.matchUserExceptions(req, res) {
		if res.Blocked {
			e.countBlocked(documentURL, res)
		}

		return res
	}

	snap := e.store.Snapshot()
	for _, p := range snap.Profiles {
		rule, checked := p.Engine.MatchBlock(req)
		res.Checked += checked
		if rule != nil {
			res.Rule = rule
			res.ProfileID = p.ID

			break
		}
	}

	if res.Rule == nil {
		return res
	}

	for _, p := range snap.Profiles {
		rule, checked := p.Engine.MatchException(req)
		res.Checked += checked
		if rule != nil {
			res.Exception = rule
			res.Decision = DecisionBlockExcepted

			e.logger.Debug(
				"request excepted",
				"url", requestURL,
				"rule", res.Rule.RuleText,
				"exception", rule.RuleText,
			)

			return res
		}
	}

	res.Decision = DecisionBlock
	res.Blocked = true

	e.logger.Debug("request blocked", "url", requestURL, "profile", res.ProfileID, "rule", res.Rule.RuleText)
	e.countBlocked(documentURL, res)

	return res
}

// matchUserExceptions sets the decision of the user exception lists in res.
// ok is true if one of the lists matched.
func (e *Evaluator) matchUserExceptions(req *rules.Request, res *Result) (ok bool) {
	ue := e.exceptions.Load()
	if hasDomainOrParent(ue.reject, req.Hostname) {
		res.Decision = DecisionBlock
		res.Blocked = true
		res.UserException = true

		return true
	}

	site := req.SourceHostname
	if site == "" {
		site = req.Hostname
	}

	if hasDomainOrParent(ue.accept, site) {
		res.UserException = true

		return true
	}

	return false
}

// hasDomainOrParent returns true if set contains hostname or any of its parent
// domains.
func hasDomainOrParent(set *container.MapSet[string], hostname string) (ok bool) {
	if set.Len() == 0 {
		return false
	}

	ufnet.Subdomains(hostname, func(domain string) (cont bool) {
		ok = set.Has(domain)

		return !ok
	})

	return ok
}

// countBlocked increments the counter of the page and calls the callback.
func (e *Evaluator) countBlocked(page string, res *Result) {
	v, _ := e.pages.LoadOrStore(page, &atomic.Int64{})
	total := v.(*atomic.Int64).Add(1)

	if e.onBlocked != nil {
		e.onBlocked(page, total, res)
	}
}

// BlockedCount returns the number of requests blocked on the page since the
// last [Evaluator.ResetPage].
func (e *Evaluator) BlockedCount(page string) (n int64) {
	v, ok := e.pages.Load(page)
	if !ok {
		return 0
	}

	return v.(*atomic.Int64).Load()
}

// ResetPage clears the blocked counter of the page.  It is called when the
// page navigates.
func (e *Evaluator) ResetPage(page string) {
	e.pages.Delete(page)
}
