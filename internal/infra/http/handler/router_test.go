package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/decentai/points-ledger/internal/domain"
	"github.com/decentai/points-ledger/internal/gateway"
	"github.com/decentai/points-ledger/internal/infra/http/middleware"
	"github.com/decentai/points-ledger/internal/infra/memory"
	"github.com/decentai/points-ledger/internal/usecase"
)

type testEnv struct {
	router    http.Handler
	ts        *httptest.Server
	ledger    *memory.LedgerLog
	transfers *usecase.TransferMoneyUseCase
}

func newTestEnv(t *testing.T, accounts gateway.AccountStore, ropts RouterOptions) *testEnv {
	t.Helper()
	ledger := memory.NewLedgerLog()

	opts := usecase.DefaultTransferOptions()
	opts.RetryBackoff = 0
	transfers := usecase.NewTransferMoney(accounts, ledger, nil, opts)

	h := Handlers{
		Transfers: NewTransferHandler(transfers, usecase.NewListTransfers(ledger)),
		Accounts: NewAccountHandler(
			usecase.NewCreateAccount(accounts),
			usecase.NewGetBalance(accounts),
			usecase.NewGetHistory(accounts, ledger),
			usecase.NewDeactivateAccount(accounts),
		),
		Admin: NewAdminHandler(usecase.NewReconcile(accounts, ledger, zerolog.Nop())),
	}
	router := NewRouter(h, ropts)
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		transfers.Drain(context.Background())
	})
	return &testEnv{router: router, ts: ts, ledger: ledger, transfers: transfers}
}

func newTestServer(t *testing.T) *httptest.Server {
	return newTestEnv(t, memory.NewAccountStore(), RouterOptions{}).ts
}

// gatedCreditStore holds every credit until release is closed.
type gatedCreditStore struct {
	*memory.AccountStore
	release chan struct{}
}

func (s *gatedCreditStore) ApplyDelta(ctx context.Context, id string, delta int64, expectedVersion int64) (int64, error) {
	if delta > 0 {
		<-s.release
	}
	return s.AccountStore.ApplyDelta(ctx, id, delta, expectedVersion)
}

// postTransfer sends POST /transfers with an Idempotency-Key and returns
// the status, the replay header and the raw body.
func postTransfer(t *testing.T, c *http.Client, base, key string, body any) (int, string, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, base+"/transfers", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, resp.Header.Get(middleware.HeaderIdempotencyHit), out
}

// doJSON sends body as JSON, checks the status and decodes the reply into out.
func doJSON(t *testing.T, c *http.Client, method, url string, body any, wantCode int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		t.Fatalf("%s %s: code=%d want=%d", method, url, resp.StatusCode, wantCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestTransferFlow(t *testing.T) {
	ts := newTestServer(t)
	cli := ts.Client()

	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "A", "initial_balance": 100}, 201, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "B", "initial_balance": 50}, 201, nil)

	var entry domain.LedgerEntry
	doJSON(t, cli, "POST", ts.URL+"/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 30}, 201, &entry)
	if entry.Seq != 1 || entry.Amount != 30 || entry.Status != domain.StatusCommitted {
		t.Fatalf("entry = %+v", entry)
	}

	var bal usecase.GetBalanceOutput
	doJSON(t, cli, "GET", ts.URL+"/accounts/A/balance", nil, 200, &bal)
	if bal.Balance != 70 {
		t.Errorf("A balance = %d, want 70", bal.Balance)
	}
	doJSON(t, cli, "GET", ts.URL+"/accounts/B/balance", nil, 200, &bal)
	if bal.Balance != 80 {
		t.Errorf("B balance = %d, want 80", bal.Balance)
	}

	var page usecase.HistoryPage
	doJSON(t, cli, "GET", ts.URL+"/accounts/B/history?since=0", nil, 200, &page)
	if len(page.Entries) != 1 || page.Entries[0].SenderID != "A" || page.NextSince != 1 {
		t.Fatalf("history = %+v", page)
	}
	doJSON(t, cli, "GET", ts.URL+"/accounts/B/history?since=1", nil, 200, &page)
	if len(page.Entries) != 0 {
		t.Fatalf("history after cursor = %+v", page.Entries)
	}

	doJSON(t, cli, "GET", ts.URL+"/transfers", nil, 200, &page)
	if len(page.Entries) != 1 {
		t.Fatalf("transfers = %+v", page.Entries)
	}

	var report usecase.ReconcileReport
	doJSON(t, cli, "GET", ts.URL+"/admin/reconcile", nil, 200, &report)
	if !report.Conserved || len(report.Anomalies) != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	cli := ts.Client()

	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "A", "initial_balance": 10}, 201, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "B", "initial_balance": 0}, 201, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"insufficient funds", "POST", "/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 11}, 402, "InsufficientFunds"},
		{"zero amount", "POST", "/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 0}, 400, "InvalidAmount"},
		{"negative amount", "POST", "/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": -5}, 400, "InvalidAmount"},
		{"self transfer", "POST", "/transfers", map[string]any{"sender_id": "A", "receiver_id": "A", "amount": 1}, 400, "InvalidAmount"},
		{"unknown receiver", "POST", "/transfers", map[string]any{"sender_id": "A", "receiver_id": "Z", "amount": 1}, 404, "AccountNotFound"},
		{"malformed json", "POST", "/transfers", `{"sender_id":`, 400, kindBadRequest},
		{"fractional amount", "POST", "/transfers", `{"sender_id":"A","receiver_id":"B","amount":1.5}`, 400, "InvalidAmount"},
		{"string amount", "POST", "/transfers", `{"sender_id":"A","receiver_id":"B","amount":"ten"}`, 400, "InvalidAmount"},
		{"bad sender type", "POST", "/transfers", `{"sender_id":7,"receiver_id":"B","amount":1}`, 400, kindBadRequest},
		{"duplicate account", "POST", "/accounts", map[string]any{"id": "A"}, 409, "AccountExists"},
		{"negative grant", "POST", "/accounts", map[string]any{"id": "C", "initial_balance": -1}, 400, "InvalidAmount"},
		{"unknown balance", "GET", "/accounts/Z/balance", nil, 404, "AccountNotFound"},
		{"unknown history", "GET", "/accounts/Z/history", nil, 404, "AccountNotFound"},
		{"bad cursor", "GET", "/accounts/A/history?since=-1", nil, 400, kindBadRequest},
		{"bad limit", "GET", "/transfers?limit=0", nil, 400, kindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp ErrorResponse
			doJSON(t, cli, tt.method, ts.URL+tt.path, tt.body, tt.wantCode, &resp)
			if resp.Error != tt.wantKind {
				t.Errorf("error kind = %q, want %q", resp.Error, tt.wantKind)
			}
			if resp.Message == "" {
				t.Error("message should not be empty")
			}
		})
	}

	// Nothing above may have moved points.
	var bal usecase.GetBalanceOutput
	doJSON(t, cli, "GET", ts.URL+"/accounts/A/balance", nil, 200, &bal)
	if bal.Balance != 10 {
		t.Fatalf("A balance = %d, want 10", bal.Balance)
	}
}

func TestDeactivatedAccount(t *testing.T) {
	ts := newTestServer(t)
	cli := ts.Client()

	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "A", "initial_balance": 10}, 201, nil)
	doJSON(t, cli, "POST", ts.URL+"/accounts", map[string]any{"id": "B"}, 201, nil)
	doJSON(t, cli, "POST", ts.URL+"/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 4}, 201, nil)
	doJSON(t, cli, "DELETE", ts.URL+"/accounts/B", nil, 204, nil)

	var resp ErrorResponse
	doJSON(t, cli, "POST", ts.URL+"/transfers", map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 1}, 404, &resp)

	var page usecase.HistoryPage
	doJSON(t, cli, "GET", ts.URL+"/accounts/B/history", nil, 200, &page)
	if len(page.Entries) != 1 {
		t.Fatalf("deactivated account history = %+v", page.Entries)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindInvalidAmount:     400,
		domain.KindInsufficientFunds: 402,
		domain.KindAccountNotFound:   404,
		domain.KindAccountExists:     409,
		domain.KindConflict:          409,
		domain.KindTransferAborted:   409,
		domain.KindStorage:           500,
		"":                           500,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestStorageErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/accounts/A/balance", nil)
	respondDomainError(rec, req, domain.StorageErr("query", errStub("password=hunter2")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("body leaks the cause: %s", rec.Body.String())
	}
}

type errStub string

func (e errStub) Error() string { return string(e) }

func TestRetryAfterTimeoutDoesNotTransferTwice(t *testing.T) {
	store := &gatedCreditStore{AccountStore: memory.NewAccountStore(), release: make(chan struct{})}
	env := newTestEnv(t, store, RouterOptions{
		Idempotency: memory.NewIdempotencyRepository(),
		Timeout:     50 * time.Millisecond,
	})
	cli := env.ts.Client()
	base := env.ts.URL

	doJSON(t, cli, "POST", base+"/accounts", map[string]any{"id": "A", "initial_balance": 100}, 201, nil)
	doJSON(t, cli, "POST", base+"/accounts", map[string]any{"id": "B", "initial_balance": 50}, 201, nil)

	body := map[string]any{"sender_id": "A", "receiver_id": "B", "amount": 30}

	// The debit lands, the credit is held, the request times out.
	if code, _, raw := postTransfer(t, cli, base, "k1", body); code != http.StatusGatewayTimeout {
		t.Fatalf("first attempt = %d %s, want 504", code, raw)
	}
	// Same key while the first transfer is still running.
	if code, _, raw := postTransfer(t, cli, base, "k1", body); code != http.StatusConflict {
		t.Fatalf("retry while pending = %d %s, want 409", code, raw)
	}

	close(store.release)
	if err := env.transfers.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	code, hit, raw := postTransfer(t, cli, base, "k1", body)
	if code != http.StatusCreated || hit != "true" {
		t.Fatalf("retry after completion = %d hit=%q %s, want replayed 201", code, hit, raw)
	}
	var entry domain.LedgerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Seq != 1 || entry.Amount != 30 {
		t.Fatalf("replayed entry = %+v", entry)
	}

	var bal usecase.GetBalanceOutput
	doJSON(t, cli, "GET", base+"/accounts/A/balance", nil, 200, &bal)
	if bal.Balance != 70 {
		t.Fatalf("A balance = %d, want 70 (debited once)", bal.Balance)
	}
	all, _ := env.ledger.List(context.Background(), 0, 0)
	if len(all) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(all))
	}
}

// headerCounter counts WriteHeader calls reaching the connection.
type headerCounter struct {
	*httptest.ResponseRecorder
	headers int
}

func (c *headerCounter) WriteHeader(code int) {
	c.headers++
	c.ResponseRecorder.WriteHeader(code)
}

func TestTimeoutWritesHeaderOnce(t *testing.T) {
	store := &gatedCreditStore{AccountStore: memory.NewAccountStore(), release: make(chan struct{})}
	env := newTestEnv(t, store, RouterOptions{Timeout: 50 * time.Millisecond})
	ctx := context.Background()
	store.Create(ctx, "A", 10)
	store.Create(ctx, "B", 0)

	req := httptest.NewRequest(http.MethodPost, "/transfers",
		strings.NewReader(`{"sender_id":"A","receiver_id":"B","amount":1}`))
	rec := &headerCounter{ResponseRecorder: httptest.NewRecorder()}
	env.router.ServeHTTP(rec, req)
	close(store.release)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if rec.headers != 1 {
		t.Fatalf("WriteHeader called %d times, want 1", rec.headers)
	}
}
