package ledger

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// accountStub serves GET /accounts/{pk} with a fixed starting sequence.
func accountStub(t *testing.T, startSeq int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"sequence": "%d"}`, startSeq)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildAndSign_ManageData(t *testing.T) {
	srv := accountStub(t, 100)
	acct := newTestAccount(t)
	c := newTestClient(t, srv.URL, acct)

	op := Operation{
		Kind:      model.OpManageData,
		DataName:  "fp_abc",
		DataValue: []byte("hello"),
	}
	signed, err := c.BuildAndSign(context.Background(), acct, op, 100)
	if err != nil {
		t.Fatalf("BuildAndSign: %v", err)
	}
	if signed.Envelope == "" {
		t.Error("empty envelope")
	}
	if len(signed.Hash) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(signed.Hash))
	}
	if signed.Sequence != 101 {
		t.Errorf("sequence = %d, want 101 (loaded 100, incremented)", signed.Sequence)
	}
}

func TestBuildAndSign_SequenceMonotonic(t *testing.T) {
	srv := accountStub(t, 50)
	acct := newTestAccount(t)
	c := newTestClient(t, srv.URL, acct)

	op := Operation{Kind: model.OpManageData, DataName: "fp_x", DataValue: []byte("v")}

	const n = 20
	seqs := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			signed, err := c.BuildAndSign(context.Background(), acct, op, 100)
			if err != nil {
				t.Errorf("BuildAndSign: %v", err)
				return
			}
			seqs[i] = signed.Sequence
		}(i)
	}
	wg.Wait()

	// Concurrent builds must consume distinct, gap-free sequence numbers.
	seen := make(map[int64]bool, n)
	for _, s := range seqs {
		if seen[s] {
			t.Fatalf("sequence %d issued twice", s)
		}
		seen[s] = true
	}
	for s := int64(51); s <= 50+n; s++ {
		if !seen[s] {
			t.Errorf("sequence %d missing from issued range", s)
		}
	}
}

func TestBuildAndSign_InvalidateForcesReload(t *testing.T) {
	var loads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loads++
		fmt.Fprint(w, `{"sequence": "10"}`)
	}))
	defer srv.Close()

	acct := newTestAccount(t)
	c := newTestClient(t, srv.URL, acct)
	op := Operation{Kind: model.OpManageData, DataName: "fp_x", DataValue: []byte("v")}

	if _, err := c.BuildAndSign(context.Background(), acct, op, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := c.BuildAndSign(context.Background(), acct, op, 100); err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Fatalf("account loaded %d times before invalidation, want 1", loads)
	}

	acct.Invalidate()
	if _, err := c.BuildAndSign(context.Background(), acct, op, 100); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Errorf("account loaded %d times after invalidation, want 2", loads)
	}
}

func TestBuildAndSign_MemoHash(t *testing.T) {
	srv := accountStub(t, 1)
	acct := newTestAccount(t)
	c := newTestClient(t, srv.URL, acct)

	var fp [32]byte
	copy(fp[:], bytes.Repeat([]byte{0xAB}, 32))

	op := Operation{
		Kind:        model.OpPayment,
		Destination: acct.Address(),
		Amount:      "1.5",
		MemoHash:    &fp,
	}
	signed, err := c.BuildAndSign(context.Background(), acct, op, 100)
	if err != nil {
		t.Fatalf("BuildAndSign payment: %v", err)
	}
	if signed.Envelope == "" || signed.Hash == "" {
		t.Error("payment envelope or hash missing")
	}
}

func TestBuildOp_SizeLimits(t *testing.T) {
	if _, err := buildOp(Operation{
		Kind:     model.OpManageData,
		DataName: string(bytes.Repeat([]byte("a"), 65)),
	}); err == nil {
		t.Error("expected error for 65-byte data name")
	}
	if _, err := buildOp(Operation{
		Kind:      model.OpManageData,
		DataName:  "ok",
		DataValue: bytes.Repeat([]byte{1}, 65),
	}); err == nil {
		t.Error("expected error for 65-byte data value")
	}
	if _, err := buildOp(Operation{Kind: "teleport"}); err == nil {
		t.Error("expected error for unknown op kind")
	}
}
