package contentblock_test

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"testing"

	"github.com/otterbrowser/contentblock"
	"github.com/otterbrowser/contentblock/filterlist"
	"github.com/otterbrowser/contentblock/rules"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testFilterListID is the list ID used in tests.
const testFilterListID = 1

// newTestEngine is a helper that builds an engine from the rule texts.
func newTestEngine(tb testing.TB, texts ...string) (engine *contentblock.NetworkEngine) {
	tb.Helper()

	rs := make([]rules.Rule, 0, len(texts))
	for _, text := range texts {
		r, err := rules.NewRule(text, testFilterListID)
		require.NoError(tb, err)
		require.NotNil(tb, r)

		rs = append(rs, r)
	}

	return contentblock.NewNetworkEngine(rs)
}

func TestNetworkEngine_empty(t *testing.T) {
	t.Parallel()

	engine := contentblock.NewNetworkEngine(nil)
	res := engine.Match(rules.NewRequest("https://example.org/", "", rules.TypeOther))

	assert.Equal(t, contentblock.DecisionAllow, res.Decision)
	assert.Nil(t, res.Rule)
	assert.Nil(t, res.Exception)
	assert.Zero(t, engine.RulesCount)
}

func TestNetworkEngine_Match(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(
		t,
		"||ads.example.com^",
		"@@||ads.example.com/ok.js^",
		"||example.org^$script",
		"||tracker.example^$third-party",
		"||cdn.example^$domain=site.example|~sub.site.example",
		"/Banner$match-case",
		"example.com##.ad",
	)

	require.Equal(t, 6, engine.RulesCount)
	require.Equal(t, 1, engine.ExceptionsCount)
	require.Len(t, engine.CosmeticRules(), 1)

	testCases := []struct {
		name          string
		url           string
		doc           string
		wantRule      string
		wantException string
		typ           rules.RequestType
		want          contentblock.Decision
	}{{
		name:     "block",
		url:      "https://ads.example.com/banner.js",
		doc:      "https://news.example/",
		wantRule: "||ads.example.com^",
		typ:      rules.TypeScript,
		want:     contentblock.DecisionBlock,
	}, {
		name:          "exception",
		url:           "https://ads.example.com/ok.js",
		doc:           "https://news.example/",
		wantRule:      "||ads.example.com^",
		wantException: "@@||ads.example.com/ok.js^",
		typ:           rules.TypeScript,
		want:          contentblock.DecisionBlockExcepted,
	}, {
		name: "no_match",
		url:  "https://news.example/article",
		doc:  "",
		typ:  rules.TypeDocument,
		want: contentblock.DecisionAllow,
	}, {
		name:     "type_match",
		url:      "https://example.org/app.js",
		doc:      "https://example.org/",
		wantRule: "||example.org^$script",
		typ:      rules.TypeScript,
		want:     contentblock.DecisionBlock,
	}, {
		name: "type_mismatch",
		url:  "https://example.org/logo.png",
		doc:  "https://example.org/",
		typ:  rules.TypeImage,
		want: contentblock.DecisionAllow,
	}, {
		name:     "third_party",
		url:      "https://tracker.example/pixel.gif",
		doc:      "https://news.example/",
		wantRule: "||tracker.example^$third-party",
		typ:      rules.TypeImage,
		want:     contentblock.DecisionBlock,
	}, {
		name: "first_party",
		url:  "https://tracker.example/pixel.gif",
		doc:  "https://www.tracker.example/",
		typ:  rules.TypeImage,
		want: contentblock.DecisionAllow,
	}, {
		name:     "permitted_domain",
		url:      "https://cdn.example/lib.js",
		doc:      "https://site.example/",
		wantRule: "||cdn.example^$domain=site.example|~sub.site.example",
		typ:      rules.TypeScript,
		want:     contentblock.DecisionBlock,
	}, {
		name: "restricted_domain",
		url:  "https://cdn.example/lib.js",
		doc:  "https://sub.site.example/",
		typ:  rules.TypeScript,
		want: contentblock.DecisionAllow,
	}, {
		name: "other_domain",
		url:  "https://cdn.example/lib.js",
		doc:  "other.example",
		typ:  rules.TypeScript,
		want: contentblock.DecisionAllow,
	}, {
		name:     "match_case",
		url:      "https://img.example/Banner.png",
		doc:      "",
		wantRule: "/Banner$match-case",
		typ:      rules.TypeImage,
		want:     contentblock.DecisionBlock,
	}, {
		name: "match_case_mismatch",
		url:  "https://img.example/banner.png",
		doc:  "",
		typ:  rules.TypeImage,
		want: contentblock.DecisionAllow,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			res := engine.Match(rules.NewRequest(tc.url, tc.doc, tc.typ))
			assert.Equal(t, tc.want, res.Decision)
			assert.Equal(t, tc.want.Blocked(), res.Decision == contentblock.DecisionBlock)

			if tc.wantRule == "" {
				assert.Nil(t, res.Rule)
			} else {
				require.NotNil(t, res.Rule)
				assert.Equal(t, tc.wantRule, res.Rule.RuleText)
				assert.Positive(t, res.Checked)
			}

			if tc.wantException == "" {
				assert.Nil(t, res.Exception)
			} else {
				require.NotNil(t, res.Exception)
				assert.Equal(t, tc.wantException, res.Exception.RuleText)
			}
		})
	}
}

func TestNetworkEngine_MatchAll(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(
		t,
		"||ads.example.com^",
		"||ads.example.com^$script",
		"@@||ads.example.com/ok.js^",
	)

	got := engine.MatchAll(rules.NewRequest("https://ads.example.com/ok.js", "", rules.TypeScript))
	assert.Len(t, got, 3)
}

func TestNewNetworkEngineFromList(t *testing.T) {
	t.Parallel()

	const text = "[Adblock Plus 2.0]\n" +
		"! Title: Test\n" +
		"||ads.example.com^\n" +
		"@@||ads.example.com/ok.js^\n" +
		"##.banner\n" +
		"/regexp/\n"

	l, err := filterlist.Parse(strings.NewReader(text), testFilterListID)
	require.NoError(t, err)

	engine := contentblock.NewNetworkEngineFromList(l)
	assert.Equal(t, 2, engine.RulesCount)
	assert.Equal(t, 1, engine.ExceptionsCount)
	assert.Len(t, engine.CosmeticRules(), 1)

	engine = contentblock.NewNetworkEngineFromList(nil)
	assert.Zero(t, engine.RulesCount)
}

func TestDecision_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "allow", contentblock.DecisionAllow.String())
	assert.Equal(t, "block", contentblock.DecisionBlock.String())
	assert.Equal(t, "block_excepted", contentblock.DecisionBlockExcepted.String())
	assert.Equal(t, "!bad_decision_42", contentblock.Decision(42).String())
}

// newBenchEngine returns an engine with n generated block rules and n/10
// exceptions.
func newBenchEngine(tb testing.TB, n int) (engine *contentblock.NetworkEngine) {
	tb.Helper()

	rs := make([]rules.Rule, 0, n+n/10)
	for i := range n {
		var text string
		switch i % 4 {
		case 0:
			text = fmt.Sprintf("||ads%d.example^", i)
		case 1:
			text = fmt.Sprintf("/banner%d/*$image", i)
		case 2:
			text = fmt.Sprintf("||cdn%d.example^$domain=site%d.example", i, i)
		default:
			text = fmt.Sprintf("||track%d.example^$third-party,script", i)
		}

		r, err := rules.NewNetworkRule(text, testFilterListID)
		require.NoError(tb, err)

		rs = append(rs, r)
	}

	for i := range n / 10 {
		r, err := rules.NewNetworkRule(fmt.Sprintf("@@||ads%d.example/ok^", i*4), testFilterListID)
		require.NoError(tb, err)

		rs = append(rs, r)
	}

	return contentblock.NewNetworkEngine(rs)
}

func BenchmarkNetworkEngine_Match(b *testing.B) {
	const rulesNum = 40_000

	heapBefore, rssBefore := alloc(b)
	engine := newBenchEngine(b, rulesNum)
	heapAfter, rssAfter := alloc(b)

	require.Equal(b, rulesNum+rulesNum/10, engine.RulesCount)

	b.ReportMetric(float64(heapAfter-min(heapBefore, heapAfter)), "heap_KiB")
	b.ReportMetric(float64(rssAfter-min(rssBefore, rssAfter)), "rss_KiB")

	reqs := []*rules.Request{
		rules.NewRequest("https://ads400.example/ok", "https://news.example/", rules.TypeScript),
		rules.NewRequest("https://img.example/banner401/a.png", "https://news.example/", rules.TypeImage),
		rules.NewRequest("https://cdn402.example/lib.js", "https://site402.example/", rules.TypeScript),
		rules.NewRequest("https://news.example/article/1", "", rules.TypeDocument),
	}

	var res contentblock.MatchResult

	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		res = engine.Match(reqs[i%len(reqs)])
	}

	_ = res
}

// alloc returns the heap and RSS memory sizes, in kibibytes.
func alloc(tb testing.TB) (heap, rss uint64) {
	tb.Helper()

	p, err := process.NewProcess(int32(os.Getpid()))
	require.NoError(tb, err)

	mi, err := p.MemoryInfo()
	require.NoError(tb, err)

	ms := &runtime.MemStats{}
	runtime.ReadMemStats(ms)

	return ms.Alloc / 1024, mi.RSS / 1024
}
