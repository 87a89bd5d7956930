package filterlist

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/otterbrowser/contentblock/rules"
)

// Parse reads the whole filter list from r.  The first non-empty line must be
// a header marker, otherwise Parse returns an error wrapping
// [ErrInvalidHeader] and no list.  Lines that cannot be parsed are recorded
// as diagnostics and don't stop the parsing.  The error is only returned for
// the problems with the header and with reading from r.
func Parse(r io.Reader, listID int) (l *List, err error) {
	sc := newLineScanner(r)

	l = &List{
		ID: listID,
	}

	header, ok := sc.next()
	if !ok {
		if err = sc.err; err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}

		return nil, fmt.Errorf("%w: empty list", ErrInvalidHeader)
	}

	l.Header, ok = parseHeader(header)
	if !ok {
		return nil, fmt.Errorf("%w: line %d: %q", ErrInvalidHeader, sc.num, header)
	}

	inHeaderBlock := true
	for line, ok := sc.next(); ok; line, ok = sc.next() {
		inHeaderBlock = inHeaderBlock && line[0] == '!'
		l.parseLine(line, sc.num, inHeaderBlock)
	}

	l.Lines = sc.num
	if sc.err != nil {
		return nil, fmt.Errorf("reading line %d: %w", sc.num+1, sc.err)
	}

	return l, nil
}

// parseLine parses a single non-empty line and adds the result to l.
func (l *List) parseLine(line string, num int, inHeaderBlock bool) {
	r, err := rules.NewRule(line, l.ID)
	if err != nil {
		l.addDiagnostic(num, line, fmt.Errorf("%w: %w", ErrMalformedLine, err))

		return
	}

	switch r := r.(type) {
	case nil:
		// Plain comment.
	case *rules.MetadataRule:
		if inHeaderBlock {
			l.applyMetadata(r, num)
		}
	case *rules.NetworkRule:
		for _, w := range r.Warnings() {
			l.addDiagnostic(num, line, w)
		}

		l.Rules = append(l.Rules, r)
	case *rules.CosmeticRule:
		l.Rules = append(l.Rules, r)
	default:
		panic(fmt.Errorf("filterlist: unexpected rule type %T", r))
	}
}

// applyMetadata sets the field of l.Metadata from r.  The first occurrence of
// a key wins.
func (l *List) applyMetadata(r *rules.MetadataRule, num int) {
	md := &l.Metadata
	switch r.Key {
	case rules.MetadataTitle:
		setOnce(&md.Title, r.Value)
	case rules.MetadataHomepage:
		setOnce(&md.Homepage, r.Value)
	case rules.MetadataVersion:
		setOnce(&md.Version, r.Value)
	case rules.MetadataChecksum:
		setOnce(&md.Checksum, r.Value)
	case rules.MetadataExpires:
		if md.Expires != 0 {
			return
		}

		d, err := ParseExpires(r.Value)
		if err != nil {
			l.addDiagnostic(num, r.RuleText, fmt.Errorf("%w: %w", ErrMalformedLine, err))

			return
		}

		md.Expires = d
	}
}

// setOnce sets *field to v if it is empty.
func setOnce(field *string, v string) {
	if *field == "" {
		*field = v
	}
}

// addDiagnostic records a problem with the line.
func (l *List) addDiagnostic(num int, text string, err error) {
	l.Diagnostics = append(l.Diagnostics, &Diagnostic{
		Err:  err,
		Text: text,
		Line: num,
	})
}

// lineScanner reads trimmed non-empty lines.  Unlike [bufio.Scanner], it has
// no limit on the line length.
type lineScanner struct {
	r   *bufio.Reader
	err error
	num int
}

// newLineScanner returns a new *lineScanner reading from r.
func newLineScanner(r io.Reader) (s *lineScanner) {
	return &lineScanner{
		r: bufio.NewReader(r),
	}
}

// next returns the next non-empty line with the surrounding whitespace
// removed.  ok is false at the end of input or on a reading error, which is
// stored in s.err.
func (s *lineScanner) next() (line string, ok bool) {
	for {
		text, err := s.r.ReadString('\n')
		if text != "" {
			s.num++
		}

		if s.num == 1 {
			text = strings.TrimPrefix(text, "\ufeff")
		}

		if line = strings.TrimSpace(text); line != "" {
			return line, true
		}

		if err != nil {
			if err != io.EOF {
				s.err = err
			}

			return "", false
		}
	}
}
