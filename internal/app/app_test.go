package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"volume-farm/internal/accounts"
	"volume-farm/internal/config"
	"volume-farm/internal/domain"
	"volume-farm/internal/journal"
	"volume-farm/internal/paper"
	"volume-farm/internal/session"
	"volume-farm/internal/store"
)

func testConfig(t *testing.T, accountsBody string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	accountsPath := filepath.Join(dir, "accounts.txt")
	if accountsBody != "" {
		require.NoError(t, os.WriteFile(accountsPath, []byte(accountsBody), 0o600))
	}

	once := config.RetryConfig{MaxAttempts: 1}
	return &config.Config{
		App:      config.AppConfig{Environment: "test"},
		Exchange: config.ExchangeConfig{Name: "binance", TimeInForce: domain.TimeInForceFOK},
		Accounts: config.AccountsConfig{
			File:        accountsPath,
			ProxiesFile: filepath.Join(dir, "proxies.txt"),
			Threads:     2,
		},
		Trading: config.TradingConfig{
			Pairs:        []string{"SOL_USDC"},
			Depth:        3,
			NeededVolume: 150,
		},
		Retry: config.RetryPolicies{Fok: once, Execution: once, Book: once},
		Paper: config.PaperConfig{
			Enabled:  true,
			Balances: map[string]float64{"USDC": 100},
			Prices:   map[string]float64{"SOL": 150},
			Levels:   20,
			Spread:   0.0005,
			Fee:      0.0008,
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *store.Store, *bytes.Buffer) {
	t.Helper()
	st, err := store.Open(config.DatabaseConfig{Driver: store.DriverSQLite, InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	a := New(cfg, zap.NewNop(), st)
	out := &bytes.Buffer{}
	a.out = out
	return a, st, out
}

func TestApp_RunsEveryAccountAgainstPaperVenue(t *testing.T) {
	cfg := testConfig(t, "key-one-000000:s1\nkey-two-000000:s2\n")
	a, st, out := newTestApp(t, cfg)

	var mu sync.Mutex
	venues := map[int]*paper.Venue{}
	a.newVenue = func(acct accounts.Account, logger *zap.Logger) (domain.Venue, error) {
		v := paper.FromConfig(cfg.Paper, logger)
		mu.Lock()
		venues[acct.Index] = v
		mu.Unlock()
		return v, nil
	}

	require.NoError(t, a.Run(context.Background()))

	require.Len(t, venues, 2)
	for idx, v := range venues {
		fills := v.Fills()
		require.Len(t, fills, 2, "account %d", idx)
		// 买入价为卖一向上第 3 档：150*(1+4*0.0005)。
		assert.True(t, fills[0].Price.Equal(decimal.RequireFromString("150.3")))
		assert.Equal(t, "0.66", fills[0].Quantity.String())
		assert.Equal(t, domain.SideSell, fills[1].Side)
		assert.Equal(t, "0.65", fills[1].Quantity.String())
	}

	j, err := journal.New(st, nil)
	require.NoError(t, err)
	finished, err := j.ListEvents(context.Background(), journal.EventSessionFinished, 10)
	require.NoError(t, err)
	assert.Len(t, finished, 2)
	trades, err := j.ListEvents(context.Background(), journal.EventTrade, 10)
	require.NoError(t, err)
	assert.Len(t, trades, 4)

	report := out.String()
	assert.Contains(t, report, string(session.ReasonNeededVolume))
	assert.Contains(t, report, "key-****0000")
	assert.Contains(t, report, "合计成交量")
}

func TestApp_FailingAccountDoesNotStopOthers(t *testing.T) {
	cfg := testConfig(t, "key-one-000000:s1\nkey-two-000000:s2\n")
	a, st, out := newTestApp(t, cfg)

	a.newVenue = func(acct accounts.Account, logger *zap.Logger) (domain.Venue, error) {
		if acct.Index == 2 {
			return nil, errors.New("invalid api secret")
		}
		return paper.FromConfig(cfg.Paper, logger), nil
	}

	require.NoError(t, a.Run(context.Background()))

	j, err := journal.New(st, nil)
	require.NoError(t, err)
	errs, err := j.ListEvents(context.Background(), journal.EventError, 10)
	require.NoError(t, err)
	assert.Len(t, errs, 1)
	finished, err := j.ListEvents(context.Background(), journal.EventSessionFinished, 10)
	require.NoError(t, err)
	assert.Len(t, finished, 1)

	report := out.String()
	assert.Contains(t, report, string(session.ReasonError))
	assert.Contains(t, report, "invalid api secret")
	assert.Contains(t, report, string(session.ReasonNeededVolume))
}

func TestApp_SellAllMode(t *testing.T) {
	cfg := testConfig(t, "key-one-000000:s1\n")
	cfg.Trading.ConvertAllToQuote = true
	cfg.Trading.Pairs = []string{"SOL_USDC", "SOL_USDT"}
	cfg.Paper.Balances = map[string]float64{"SOL": 1.234}
	a, _, out := newTestApp(t, cfg)

	var venue *paper.Venue
	a.newVenue = func(acct accounts.Account, logger *zap.Logger) (domain.Venue, error) {
		venue = paper.FromConfig(cfg.Paper, logger)
		return venue, nil
	}

	require.NoError(t, a.Run(context.Background()))

	fills := venue.Fills()
	require.Len(t, fills, 1)
	assert.Equal(t, "1.23", fills[0].Quantity.String())
	assert.Contains(t, out.String(), string(session.ReasonSoldAll))
}

func TestApp_PaperWithoutAccountsFileUsesVirtualAccount(t *testing.T) {
	cfg := testConfig(t, "")
	a, _, out := newTestApp(t, cfg)

	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, out.String(), string(session.ReasonNeededVolume))

	cfg.Paper.Enabled = false
	_, err := a.loadAccounts()
	require.Error(t, err)
}

func TestBuildSession_RejectsBadPairs(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Trading.Pairs = []string{"SOLUSDC"}
	_, err := BuildSession(cfg, paper.FromConfig(cfg.Paper, nil), "acct", nil, nil)
	require.Error(t, err)
}

type fakeLister struct {
	gotType  journal.EventType
	gotLimit int
	err      error
}

func (f *fakeLister) ListEvents(_ context.Context, eventType journal.EventType, limit int) ([]journal.Event, error) {
	f.gotType = eventType
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []journal.Event{{Type: eventType, Payload: map[string]string{"k": "v"}}}, nil
}

func TestMonitorHandler(t *testing.T) {
	lister := &fakeLister{}
	h := newMonitorHandler(lister, zap.NewNop())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?type=TRADE&limit=5000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, journal.EventTrade, lister.gotType)
	assert.Equal(t, 1000, lister.gotLimit)
	assert.Contains(t, rec.Body.String(), `"type":"trade"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events?limit=abc", nil))
	assert.Equal(t, 200, lister.gotLimit)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	lister.err = errors.New("db down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, nil)
	assert.Contains(t, buf.String(), "没有可汇总的账户")

	buf.Reset()
	printReport(&buf, []accountResult{
		{Index: 1, Mode: modeFarm, Result: session.Result{Account: "abcd****wxyz", Deals: 3, Trades: 6, Volume: decimal.RequireFromString("612.345"), Reason: session.ReasonNeededVolume}},
		{Index: 2, Mode: modeFarm, Result: session.Result{Account: "efgh****wxyz", Volume: decimal.RequireFromString("10"), Reason: session.ReasonError, Err: errors.New("boom")}},
	})
	s := buf.String()
	assert.Contains(t, s, "abcd****wxyz")
	assert.Contains(t, s, "612.35")
	assert.Contains(t, s, "boom")
	assert.Contains(t, s, "合计成交量: 622.35")
}
