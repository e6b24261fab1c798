package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/withObsrvr/carpool-ledger/internal/carpool"
	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/journal"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/ledger/ledgertest"
	"github.com/withObsrvr/carpool-ledger/internal/payment"
	"github.com/withObsrvr/carpool-ledger/internal/store"
	"github.com/withObsrvr/carpool-ledger/internal/wallet"
)

var (
	aliceWallet = common.HexToAddress("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	bobWallet   = common.HexToAddress("0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB")
	testSigner  = ledgertest.Signer(common.HexToAddress("0x5151515151515151515151515151515151515151"))
)

type fixture struct {
	ledger  *ledgertest.Ledger
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := ledgertest.New()
	st := store.New(l)
	tables := store.DefaultTables()
	svc := carpool.NewService(st, tables, wallet.NewDirectory(st, tables.Accounts))

	token, err := payment.NewToken(l)
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	j, err := journal.New(journal.Config{Enabled: true, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("journal.New failed: %v", err)
	}
	v, err := payment.NewVerifier(l, svc, payment.WithJournal(j))
	if err != nil {
		t.Fatalf("NewVerifier failed: %v", err)
	}

	srv := NewServer(Deps{
		Carpool:          svc,
		Verifier:         v,
		Token:            token,
		Signer:           testSigner,
		DistributeAmount: 1000,
	})
	return &fixture{ledger: l, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func signup(username, role string, addr common.Address) map[string]string {
	return map[string]string{
		"username":       username,
		"password":       "secret",
		"contact":        "555-0100",
		"email":          username + "@example.com",
		"vehicle":        "",
		"role":           role,
		"wallet_address": addr.Hex(),
	}
}

func TestSignupAndLogin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/accounts", signup("bob", codec.RoleDriver, bobWallet))
	expectStatus(t, rec, http.StatusCreated)

	var created carpool.SignupResult
	decodeBody(t, rec, &created)
	if created.Account.Password != "" {
		t.Error("password leaked in signup response")
	}
	if created.TxHash == "" {
		t.Error("expected tx hash in signup response")
	}

	rec = f.do(t, http.MethodPost, "/accounts", signup("bob", codec.RoleDriver, bobWallet))
	expectStatus(t, rec, http.StatusConflict)
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Error != "account_exists" {
		t.Errorf("expected account_exists, got %q", body.Error)
	}

	rec = f.do(t, http.MethodPost, "/sessions", map[string]string{"username": "bob", "password": "secret"})
	expectStatus(t, rec, http.StatusOK)
	var account codec.Account
	decodeBody(t, rec, &account)
	if account.Wallet != bobWallet.Hex() || account.Role != codec.RoleDriver {
		t.Errorf("unexpected login account: %+v", account)
	}

	rec = f.do(t, http.MethodPost, "/sessions", map[string]string{"username": "bob", "password": "wrong"})
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = f.do(t, http.MethodGet, "/users/bob/wallet", nil)
	expectStatus(t, rec, http.StatusOK)
	var w walletResponse
	decodeBody(t, rec, &w)
	if w.Wallet != bobWallet.Hex() {
		t.Errorf("expected wallet %s, got %s", bobWallet.Hex(), w.Wallet)
	}

	rec = f.do(t, http.MethodGet, "/drivers", nil)
	expectStatus(t, rec, http.StatusOK)
	var drivers []codec.Account
	decodeBody(t, rec, &drivers)
	if len(drivers) != 1 || drivers[0].Username != "bob" {
		t.Errorf("unexpected drivers: %+v", drivers)
	}
}

func TestRejectsMalformedBodies(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown field", "/accounts", `{"username":"bob","nickname":"b"}`},
		{"not json", "/rides", `driver=bob`},
		{"reserved separator", "/rides", `{"driver":"bob","location":"a#b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
	if n := len(f.ledger.Writes()); n != 0 {
		t.Errorf("expected no ledger writes, got %d", n)
	}
}

func TestRideLifecycleAndPayment(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/rides", map[string]string{
		"ride_id":  "4321",
		"driver":   "bob",
		"location": "Campus",
		"seats":    "3",
	})
	expectStatus(t, rec, http.StatusCreated)
	var created rideResponse
	decodeBody(t, rec, &created)
	if created.Ride.ID != "4321" || created.Ride.Status != codec.RideWaiting || !created.Write.Written {
		t.Fatalf("unexpected ride response: %+v", created)
	}

	rec = f.do(t, http.MethodGet, "/rides", nil)
	expectStatus(t, rec, http.StatusOK)
	var waiting []codec.Ride
	decodeBody(t, rec, &waiting)
	if len(waiting) != 1 {
		t.Fatalf("expected 1 waiting ride, got %d", len(waiting))
	}

	rec = f.do(t, http.MethodPost, "/rides/4321/claims", map[string]string{"driver": "bob", "passenger": "alice"})
	expectStatus(t, rec, http.StatusCreated)
	var claimed claimResponse
	decodeBody(t, rec, &claimed)
	if claimed.Claim.ID != "1" || claimed.Claim.RideID != "4321" {
		t.Errorf("unexpected claim: %+v", claimed.Claim)
	}

	rec = f.do(t, http.MethodPost, "/rides/4321/complete", map[string]string{
		"driver":    "bob",
		"passenger": "alice",
		"miles":     "5",
		"amount":    "50",
	})
	expectStatus(t, rec, http.StatusOK)
	var completed completeResponse
	decodeBody(t, rec, &completed)
	if !completed.RideFound || !completed.Claim.Written || !completed.Ride.Written {
		t.Errorf("unexpected completion: %+v", completed)
	}

	rec = f.do(t, http.MethodGet, "/passengers/alice/payments", nil)
	expectStatus(t, rec, http.StatusOK)
	var pending []codec.Claim
	decodeBody(t, rec, &pending)
	if len(pending) != 1 || pending[0].Amount != "50" {
		t.Fatalf("expected one pending payment of 50, got %+v", pending)
	}

	payTx := common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	f.ledger.AddReceipt(payTx, 1, ledger.Transfer{From: aliceWallet, To: bobWallet, Value: big.NewInt(50)})

	verify := map[string]string{
		"tx_hash":            payTx.Hex(),
		"expected_recipient": strings.ToLower(bobWallet.Hex()),
		"min_amount":         "50",
		"passenger":          "alice",
		"ride_id":            "4321",
	}
	rec = f.do(t, http.MethodPost, "/payments/verify", verify)
	expectStatus(t, rec, http.StatusOK)
	var verified verifyResponse
	decodeBody(t, rec, &verified)
	if verified.Status != "ok" || verified.Amount != "50" || verified.AlreadyRecorded {
		t.Errorf("unexpected verify response: %+v", verified)
	}

	rec = f.do(t, http.MethodPost, "/payments/verify", verify)
	expectStatus(t, rec, http.StatusOK)
	decodeBody(t, rec, &verified)
	if !verified.AlreadyRecorded {
		t.Error("expected repeat verification to report already recorded")
	}

	rec = f.do(t, http.MethodGet, "/drivers/bob/paid", nil)
	expectStatus(t, rec, http.StatusOK)
	var paid []codec.Claim
	decodeBody(t, rec, &paid)
	if len(paid) != 1 || !strings.EqualFold(paid[0].PaymentTx, payTx.Hex()) {
		t.Errorf("unexpected paid rides: %+v", paid)
	}

	rec = f.do(t, http.MethodGet, "/rides/4321", nil)
	expectStatus(t, rec, http.StatusOK)
	var detail rideDetail
	decodeBody(t, rec, &detail)
	if detail.Ride.Status != codec.RideCompleted || len(detail.Claims) != 1 || detail.Claims[0].Status != codec.ClaimPaid {
		t.Errorf("unexpected ride detail: %+v", detail)
	}

	rec = f.do(t, http.MethodPost, "/rides/4321/complete", map[string]string{"driver": "bob", "passenger": "alice", "amount": "60"})
	expectStatus(t, rec, http.StatusConflict)
}

func TestVerifyPaymentErrors(t *testing.T) {
	f := newFixture(t)
	missing := common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222")

	tests := []struct {
		name      string
		minAmount string
		txHash    string
		want      int
	}{
		{"min amount not integer", "1.5", missing.Hex(), http.StatusBadRequest},
		{"bad hash", "50", "0x12", http.StatusBadRequest},
		{"hash with path suffix", "50", missing.Hex() + "/../../escaped", http.StatusBadRequest},
		{"min amount empty", "", missing.Hex(), http.StatusBadRequest},
		{"unknown transaction", "50", missing.Hex(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/payments/verify", map[string]string{
				"tx_hash":            tt.txHash,
				"expected_recipient": bobWallet.Hex(),
				"min_amount":         tt.minAmount,
				"passenger":          "alice",
				"ride_id":            "4321",
			})
			expectStatus(t, rec, tt.want)
		})
	}
}

func TestPassengerPaymentsUnpaidFilter(t *testing.T) {
	f := newFixture(t)
	attached := common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333333").Hex()
	f.ledger.SetBlob(ledger.KindClaim, strings.Join([]string{
		"1#1111#bob#alice#5#50#0#0#completed",
		"2#2222#bob#alice#3#30#" + attached + "#0#completed",
		"3#3333#bob#alice#0#0#0#0#completed",
	}, "\n")+"\n")

	rec := f.do(t, http.MethodGet, "/passengers/alice/payments", nil)
	expectStatus(t, rec, http.StatusOK)
	var pending []codec.Claim
	decodeBody(t, rec, &pending)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending payments, got %+v", pending)
	}

	rec = f.do(t, http.MethodGet, "/passengers/alice/payments?unpaid=true", nil)
	expectStatus(t, rec, http.StatusOK)
	var unpaid []codec.Claim
	decodeBody(t, rec, &unpaid)
	if len(unpaid) != 1 || unpaid[0].RideID != "1111" {
		t.Fatalf("expected only ride 1111 unpaid, got %+v", unpaid)
	}
}

func TestTokenEndpoints(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetBalance(testSigner.Address(), payment.ToUnits(big.NewInt(5000), ledger.TokenDecimals))

	rec := f.do(t, http.MethodGet, "/token", nil)
	expectStatus(t, rec, http.StatusOK)
	var desc payment.Descriptor
	decodeBody(t, rec, &desc)
	if desc.Decimals != ledger.TokenDecimals || desc.ContractAddress == "" {
		t.Errorf("unexpected descriptor: %+v", desc)
	}

	rec = f.do(t, http.MethodPost, "/accounts", signup("alice", codec.RolePassenger, aliceWallet))
	expectStatus(t, rec, http.StatusCreated)

	rec = f.do(t, http.MethodPost, "/token/grant", map[string]string{"username": "alice"})
	expectStatus(t, rec, http.StatusOK)
	var granted grantResponse
	decodeBody(t, rec, &granted)
	if granted.Amount != "1000" || granted.Wallet != aliceWallet.Hex() {
		t.Errorf("unexpected grant: %+v", granted)
	}

	rec = f.do(t, http.MethodGet, "/token/balance/"+aliceWallet.Hex(), nil)
	expectStatus(t, rec, http.StatusOK)
	var bal balanceResponse
	decodeBody(t, rec, &bal)
	if bal.Balance != "1000" {
		t.Errorf("expected balance 1000, got %s", bal.Balance)
	}

	rec = f.do(t, http.MethodGet, "/token/balance/not-an-address", nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = f.do(t, http.MethodPost, "/token/grant", map[string]string{"username": "nobody"})
	expectStatus(t, rec, http.StatusNotFound)

	rec = f.do(t, http.MethodPost, "/token/grant", map[string]string{})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestRideNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/rides/9999", nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestCorrelationID(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/drivers", nil)
	req.Header.Set(CorrelationHeader, "req-42")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(CorrelationHeader); got != "req-42" {
		t.Errorf("expected echoed correlation id, got %q", got)
	}

	rec = f.do(t, http.MethodGet, "/drivers", nil)
	if rec.Header().Get(CorrelationHeader) == "" {
		t.Error("expected generated correlation id")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", carpool.ErrInvalidInput), http.StatusBadRequest},
		{carpool.ErrInvalidCredentials, http.StatusUnauthorized},
		{store.ErrRecordNotFound, http.StatusNotFound},
		{carpool.ErrAlreadyPaid, http.StatusConflict},
		{store.ErrConflict, http.StatusConflict},
		{payment.ErrNoMatchingTransfer, http.StatusUnprocessableEntity},
		{ledger.ErrTransactionFailed, http.StatusUnprocessableEntity},
		{ledger.ErrConnectivity, http.StatusServiceUnavailable},
		{ledger.ErrConfirmationTimeout, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
