package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
)

const testPassphrase = "Test SDF Network ; September 2015"

// newTestAccount builds an account from a freshly generated keypair.
func newTestAccount(t *testing.T) *Account {
	t.Helper()
	kp, err := keypair.Random()
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	acct, err := NewAccount(kp.Address(), kp.Seed())
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	return acct
}

func newTestClient(t *testing.T, horizonURL string, accounts ...*Account) *Client {
	t.Helper()
	if len(accounts) == 0 {
		accounts = []*Account{newTestAccount(t)}
	}
	c, err := New(Config{
		HorizonURL:        horizonURL,
		NetworkPassphrase: testPassphrase,
		BackoffBase:       time.Millisecond,
		BackoffCap:        5 * time.Millisecond,
	}, accounts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewAccount_RejectsMismatchedKey(t *testing.T) {
	kp, _ := keypair.Random()
	other, _ := keypair.Random()

	if _, err := NewAccount(other.Address(), kp.Seed()); err == nil {
		t.Fatal("expected error for seed not matching public key")
	}
	if _, err := NewAccount("", kp.Seed()); err != nil {
		t.Fatalf("empty public key should skip the match check: %v", err)
	}
	if _, err := NewAccount(kp.Address(), "not-a-seed"); err == nil {
		t.Fatal("expected error for malformed seed")
	}
}

func TestLoadAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Horizon serializes 64-bit sequence numbers as strings.
		fmt.Fprint(w, `{"sequence": "4096"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	seq, err := c.LoadAccount(context.Background(), "GABC")
	if err != nil {
		t.Fatalf("LoadAccount: %v", err)
	}
	if seq != 4096 {
		t.Errorf("sequence = %d, want 4096", seq)
	}
}

func TestLoadAccount_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.LoadAccount(context.Background(), "GABC"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("got %v, want ErrAccountNotFound", err)
	}
}

func TestProbeFee(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"uses max charged", `{"fee_charged":{"max":"750"}}`, 750},
		{"floors at base fee", `{"fee_charged":{"max":"10"}}`, DefaultBaseFee},
		{"bad body falls back", `{`, DefaultBaseFee},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			if got := c.ProbeFee(context.Background()); got != tc.want {
				t.Errorf("ProbeFee = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestProbeFee_Ceiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"fee_charged":{"max":"999999"}}`)
	}))
	defer srv.Close()

	c, err := New(Config{
		HorizonURL:        srv.URL,
		NetworkPassphrase: testPassphrase,
		FeeCeiling:        5000,
	}, []*Account{newTestAccount(t)})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.ProbeFee(context.Background()); got != 5000 {
		t.Errorf("ProbeFee = %d, want ceiling 5000", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome Outcome
		code    string
	}{
		{"accepted", 200, `{"id":"abc","successful":true}`, OutcomeAccepted, ""},
		{"included but failed", 200, `{"id":"abc","successful":false,"extras":{"result_codes":{"transaction":"tx_failed"}}}`, OutcomeRejectedPermanent, "tx_failed"},
		{"bad auth", 400, `{"extras":{"result_codes":{"transaction":"tx_bad_auth"}}}`, OutcomeRejectedPermanent, "tx_bad_auth"},
		{"too late", 400, `{"extras":{"result_codes":{"transaction":"tx_too_late"}}}`, OutcomeRejectedPermanent, "tx_too_late"},
		{"gateway timeout", 504, ``, OutcomeRejectedTransient, "horizon 504"},
		{"rate limited", 429, ``, OutcomeRejectedTransient, "horizon 429"},
		{"server error", 503, ``, OutcomeRejectedTransient, "horizon 503"},
		{"4xx without codes", 400, `{"detail":"malformed envelope"}`, OutcomeRejectedPermanent, "malformed envelope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := classify(tc.status, []byte(tc.body))
			if res.Outcome != tc.outcome {
				t.Errorf("outcome = %s, want %s", res.Outcome, tc.outcome)
			}
			if tc.code != "" && res.Code != tc.code {
				t.Errorf("code = %q, want %q", res.Code, tc.code)
			}
		})
	}
}

func TestSubmitWithRetry_TransientThenAccepted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"txhash","successful":true}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.SubmitWithRetry(context.Background(), "AAAA")
	if err != nil {
		t.Fatalf("SubmitWithRetry: %v", err)
	}
	if res.Outcome != OutcomeAccepted {
		t.Errorf("outcome = %s, want ACCEPTED", res.Outcome)
	}
	if res.Attempts != 4 {
		t.Errorf("attempts = %d, want 4 (three 503s then success)", res.Attempts)
	}
}

func TestSubmitWithRetry_PermanentStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"extras":{"result_codes":{"transaction":"tx_bad_seq"}}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.SubmitWithRetry(context.Background(), "AAAA")
	if err != nil {
		t.Fatalf("SubmitWithRetry: %v", err)
	}
	if res.Outcome != OutcomeRejectedPermanent || res.Code != "tx_bad_seq" {
		t.Errorf("result = %+v", res)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("permanent rejection was retried %d times", got)
	}
}

func TestSubmitWithRetry_Exhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.SubmitWithRetry(context.Background(), "AAAA")
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("got %v, want ErrNetworkUnavailable", err)
	}
	if res == nil || res.Attempts != DefaultMaxAttempts {
		t.Errorf("result = %+v, want %d attempts reported", res, DefaultMaxAttempts)
	}
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   TxStatus
	}{
		{"not yet included", 404, ``, TxPending},
		{"completed via status", 200, `{"status":"completed"}`, TxCompleted},
		{"completed via successful", 200, `{"successful":true}`, TxCompleted},
		{"failed", 200, `{"status":"failed"}`, TxFailed},
		{"still pending", 200, `{"status":"pending"}`, TxPending},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			got, _, err := c.PollStatus(context.Background(), "txhash")
			if err != nil {
				t.Fatalf("PollStatus: %v", err)
			}
			if got != tc.want {
				t.Errorf("status = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestWaitConfirm_DeadlineLeavesPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	status, _, err := c.WaitConfirm(ctx, "txhash")
	if err != nil {
		t.Fatalf("WaitConfirm: %v", err)
	}
	if status != TxPending {
		t.Errorf("status = %s, want pending on deadline", status)
	}
}

func TestAccountFor_Deterministic(t *testing.T) {
	accounts := []*Account{newTestAccount(t), newTestAccount(t), newTestAccount(t)}
	c := newTestClient(t, "http://horizon.invalid", accounts...)

	fp := []byte{7, 1, 2}
	first := c.AccountFor(fp)
	for i := 0; i < 10; i++ {
		if c.AccountFor(fp) != first {
			t.Fatal("AccountFor not deterministic for identical fingerprint")
		}
	}
	if first != accounts[7%3] {
		t.Error("AccountFor did not select by first fingerprint byte")
	}
	if c.AccountFor(nil) != accounts[0] {
		t.Error("empty fingerprint should map to the first account")
	}
}
