package fallback

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/artisanmart/notifier/internal/classify"
	"github.com/artisanmart/notifier/internal/models"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngine(cfg, Dependencies{
		Log:    NewLog(16),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return now },
	})
	return eng, &now
}

func TestDecideUserErrorFallsBackImmediately(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	c := classify.Classify(errorString("user not opted in"))

	dec := eng.Decide(Input{Classification: c, Origin: models.ChannelRich})
	require.True(t, dec.ShouldFallback)
	require.Equal(t, models.ChannelPlain, dec.TargetChannel)
	require.Zero(t, dec.Delay)
	require.NotEmpty(t, dec.AttemptID)
}

func TestDecideNonChannelSpecificCategoriesNeverFallBack(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	for _, cat := range []classify.Category{
		classify.CategoryValidation,
		classify.CategoryAuthentication,
		classify.CategoryConfiguration,
	} {
		dec := eng.Decide(Input{Classification: classify.New("X", cat, ""), Origin: models.ChannelRich})
		require.False(t, dec.ShouldFallback, "category %s", cat)
		require.Empty(t, dec.TargetChannel)
	}
}

func TestDecideNetworkAndServiceFallBack(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	for _, cat := range []classify.Category{classify.CategoryNetwork, classify.CategoryService} {
		dec := eng.Decide(Input{Classification: classify.New("X", cat, ""), Origin: models.ChannelRich})
		require.True(t, dec.ShouldFallback, "category %s", cat)
	}
}

func TestDecideRateLimitedWaitsConfiguredDelay(t *testing.T) {
	eng, _ := newTestEngine(t, Config{RateLimitDelay: 2 * time.Second})
	c := classify.New(classify.CodeRateLimited, classify.CategoryRateLimiting, "bucket empty")

	dec := eng.Decide(Input{Classification: c, Origin: models.ChannelRich})
	require.True(t, dec.ShouldFallback)
	require.Equal(t, 2*time.Second, dec.Delay)
}

func TestDecidePlainIsTerminal(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	c := classify.New(classify.CodeTimeout, classify.CategoryNetwork, "")
	dec := eng.Decide(Input{Classification: c, Origin: models.ChannelPlain})
	require.False(t, dec.ShouldFallback)
	require.Contains(t, dec.Reason, "last hop")
}

func TestDecideRespectsMaxAttempts(t *testing.T) {
	eng, _ := newTestEngine(t, Config{MaxAttempts: 2})
	c := classify.New(classify.CodeTimeout, classify.CategoryNetwork, "")

	require.True(t, eng.Decide(Input{Classification: c, Origin: models.ChannelRich, Attempts: 1}).ShouldFallback)
	require.False(t, eng.Decide(Input{Classification: c, Origin: models.ChannelRich, Attempts: 2}).ShouldFallback)
	require.False(t, eng.Decide(Input{Classification: c, Origin: models.ChannelRich, Attempts: 1, MaxAttempts: 1}).ShouldFallback)
}

func TestUnsupportedContentFallsBackDespiteValidation(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	c := classify.New(classify.CodeUnsupportedContent, classify.CategoryValidation, "rich channel needs a template")
	dec := eng.Decide(Input{Classification: c, Origin: models.ChannelRich})
	require.True(t, dec.ShouldFallback)
}

func TestRuleLookupOrder(t *testing.T) {
	rules := []Rule{
		{Category: classify.CategoryUserError, Fallback: false, Reason: "category"},
		{Category: classify.CategoryUserError, Origin: models.ChannelRich, Fallback: true, Delay: time.Second, Reason: "category+origin"},
		{Code: classify.CodeUserBlocked, Fallback: false, Reason: "code"},
		{Code: classify.CodeRecipientDND, Origin: models.ChannelRich, Fallback: true, Delay: 3 * time.Second, Reason: "code+origin"},
		{Code: classify.CodeRecipientDND, Fallback: false, Reason: "code only"},
	}
	eng, _ := newTestEngine(t, Config{Rules: rules})
	decide := func(code classify.Code) Decision {
		return eng.Decide(Input{Classification: classify.New(code, classify.CategoryUserError, ""), Origin: models.ChannelRich})
	}

	require.Equal(t, "code+origin", decide(classify.CodeRecipientDND).Reason)
	require.Equal(t, "code", decide(classify.CodeUserBlocked).Reason)
	require.Equal(t, "category+origin", decide(classify.CodeUserNotOptedIn).Reason)
}

func TestEveryDecisionIsLogged(t *testing.T) {
	eng, _ := newTestEngine(t, Config{})
	eng.Decide(Input{Classification: classify.New(classify.CodeUserBlocked, classify.CategoryUserError, ""), Origin: models.ChannelRich, CorrelationID: "c-1"})
	eng.Decide(Input{Classification: classify.New(classify.CodeInvalidTemplate, classify.CategoryValidation, ""), Origin: models.ChannelRich, CorrelationID: "c-2"})

	entries := eng.Log().Snapshot()
	require.Len(t, entries, 2)
	require.True(t, entries[0].ShouldFallback)
	require.Equal(t, "c-1", entries[0].CorrelationID)
	require.False(t, entries[1].ShouldFallback)
	require.Equal(t, classify.CodeInvalidTemplate, entries[1].Code)
}

func TestLoadRulesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := `rules:
  - code: user_blocked
    origin: whatsapp
    fallback: false
    reason: blocked users stay blocked
  - category: rate_limiting
    fallback: true
    delay: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, classify.CodeUserBlocked, rules[0].Code)
	require.Equal(t, models.ChannelRich, rules[0].Origin)
	require.Equal(t, 5*time.Second, rules[1].Delay)

	eng, _ := newTestEngine(t, Config{Rules: rules})
	dec := eng.Decide(Input{Classification: classify.New(classify.CodeRateLimited, classify.CategoryRateLimiting, ""), Origin: models.ChannelRich})
	require.Equal(t, 5*time.Second, dec.Delay)
}

func TestParseRulesRejectsInvalidRows(t *testing.T) {
	_, err := ParseRules([]byte("rules:\n  - fallback: true\n"))
	require.Error(t, err)

	_, err = ParseRules([]byte("rules:\n  - code: X\n    origin: email\n"))
	require.Error(t, err)

	_, err = ParseRules([]byte("rules:\n  - code: X\n    unknown_field: 1\n"))
	require.Error(t, err)
}

type errorString string

func (e errorString) Error() string { return string(e) }
