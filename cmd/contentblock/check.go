package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/rules"
)

// check loads the lists from the cache, downloads the missing ones, and writes
// the decision on the URL from opts to w.
func check(ctx context.Context, w io.Writer, c *components, opts *Options) (err error) {
	t, err := rules.ParseRequestType(opts.RequestType)
	if err != nil {
		return fmt.Errorf("request type: %w", err)
	}

	c.scheduler.LoadCache(ctx)

	var errs []error
	for _, p := range c.store.Profiles() {
		if !p.Enabled || !p.LastUpdate.IsZero() {
			continue
		}

		updErr := c.scheduler.UpdateNow(ctx, p.ID)
		if updErr != nil {
			errs = append(errs, fmt.Errorf("profile %q: %w", p.ID, updErr))
		}
	}

	writeProfiles(w, c.store.Profiles())

	res := c.evaluator.ShouldBlock(opts.CheckURL, opts.Referer, t)
	writeResult(w, res)

	// Failed updates don't prevent the decision, but they are reported.
	return errors.Join(errs...)
}

// writeProfiles writes the table of the profiles to w.
func writeProfiles(w io.Writer, profiles []*contentblock.Profile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTITLE\tENABLED\tRULES\tUPDATED\tSTATE\tERROR")

	for _, p := range profiles {
		updated := "never"
		if !p.LastUpdate.IsZero() {
			updated = p.LastUpdate.Format(time.RFC3339)
		}

		_, _ = fmt.Fprintf(
			tw,
			"%s\t%s\t%t\t%d\t%s\t%s\t%s\n",
			p.ID,
			p.DisplayTitle(),
			p.Enabled,
			p.Engine.RulesCount,
			updated,
			p.Status.State,
			p.Status.LastError,
		)
	}

	_ = tw.Flush()
	_, _ = fmt.Fprintln(w)
}

// writeResult writes the decision to w.
func writeResult(w io.Writer, res *contentblock.Result) {
	_, _ = fmt.Fprintf(w, "decision: %s\nblocked: %t\n", res.Decision, res.Blocked)

	if res.UserException {
		_, _ = fmt.Fprintln(w, "user exception: true")
	}

	if res.Rule != nil {
		_, _ = fmt.Fprintf(w, "rule: %s (%s)\n", res.Rule.Text(), res.ProfileID)
	}

	if res.Exception != nil {
		_, _ = fmt.Fprintf(w, "exception: %s\n", res.Exception.Text())
	}

	_, _ = fmt.Fprintf(w, "checked: %d\n", res.Checked)
}
