package carpool

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/bcrypt"

	"github.com/withObsrvr/carpool-ledger/internal/codec"
	"github.com/withObsrvr/carpool-ledger/internal/ledger"
	"github.com/withObsrvr/carpool-ledger/internal/logging"
	"github.com/withObsrvr/carpool-ledger/internal/notify"
	"github.com/withObsrvr/carpool-ledger/internal/store"
)

// Signup is a new account request.
type Signup struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Contact  string `json:"contact"`
	Email    string `json:"email"`
	Vehicle  string `json:"vehicle"`
	Role     string `json:"role"`
	Wallet   string `json:"wallet_address"`
}

// SignupResult reports a created account.
type SignupResult struct {
	Account codec.Account `json:"account"`
	TxHash  string        `json:"tx_hash"`
	// GrantTx is set when the signup token grant was sent.
	GrantTx string `json:"grant_tx,omitempty"`
}

// CreateAccount inserts a new account unless the username is taken. The
// password is stored as a bcrypt hash.
func (s *Service) CreateAccount(ctx context.Context, signer ledger.Signer, req Signup) (SignupResult, error) {
	logger := logging.OperationLogger(ctx, s.tables.Accounts.Name, "create_account")

	if err := required(map[string]string{"username": req.Username, "password": req.Password}); err != nil {
		return SignupResult{}, err
	}
	if req.Role != codec.RoleDriver && req.Role != codec.RolePassenger {
		return SignupResult{}, fmt.Errorf("%w: role must be %s or %s", ErrInvalidInput, codec.RoleDriver, codec.RolePassenger)
	}
	if err := checkFields(map[string]string{
		"username": req.Username,
		"contact":  req.Contact,
		"email":    req.Email,
		"vehicle":  req.Vehicle,
		"wallet":   req.Wallet,
	}); err != nil {
		return SignupResult{}, err
	}
	if req.Wallet != "" && !common.IsHexAddress(req.Wallet) {
		return SignupResult{}, fmt.Errorf("%w: wallet %q is not an address", ErrInvalidInput, req.Wallet)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return SignupResult{}, fmt.Errorf("hash password: %w", err)
	}

	account := codec.Account{
		Username: req.Username,
		Password: string(hash),
		Contact:  req.Contact,
		Email:    req.Email,
		Vehicle:  req.Vehicle,
		Role:     req.Role,
		Wallet:   req.Wallet,
	}

	res, err := s.store.Mutate(ctx, signer, store.Mutation{
		Table:     s.tables.Accounts,
		Operation: "create_account",
		Apply: store.InsertIfAbsent(
			func(r codec.Row) bool { return r.Field(codec.AccountUsername) == req.Username },
			account.Row(),
			fmt.Errorf("%w: %s", ErrAccountExists, req.Username),
		),
	})
	if err != nil {
		return SignupResult{}, err
	}

	s.wallets.Set(req.Username, req.Wallet)
	logger.Info("account created", "username", req.Username, "role", req.Role, "tx_hash", res.TxHash.Hex())

	out := SignupResult{Account: account, TxHash: res.TxHash.Hex()}
	out.Account.Password = ""

	if s.granter != nil && s.grant != nil && s.grant.Sign() > 0 && req.Wallet != "" {
		tx, err := s.granter.Grant(ctx, signer, common.HexToAddress(req.Wallet), s.grant)
		if err != nil {
			logger.Error("signup token grant failed", "username", req.Username, "error", err)
		} else {
			out.GrantTx = tx.Hex()
			logger.Info("signup tokens granted", "username", req.Username, "amount", s.grant.String(), "tx_hash", tx.Hex())
		}
	}

	s.publish(ctx, notify.Event{Type: notify.AccountCreated, Username: req.Username, TxHash: res.TxHash.Hex()})
	return out, nil
}

// Login checks credentials against the accounts table. The wallet passed
// in, or the one on record, is cached in the wallet directory.
func (s *Service) Login(ctx context.Context, username, password, walletAddr string) (codec.Account, error) {
	snap, err := s.store.Read(ctx, s.tables.Accounts)
	if err != nil {
		return codec.Account{}, err
	}

	row, _, ok := codec.FindFirst(snap.Rows, func(r codec.Row) bool {
		return r.Field(codec.AccountUsername) == username
	})
	if !ok {
		return codec.Account{}, ErrInvalidCredentials
	}

	account := codec.AccountFromRow(row)
	if err := bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, bcrypt.ErrHashTooShort) {
			return codec.Account{}, ErrInvalidCredentials
		}
		return codec.Account{}, fmt.Errorf("compare password: %w", err)
	}

	if walletAddr == "" {
		walletAddr = account.Wallet
	}
	s.wallets.Set(username, walletAddr)

	if account.Role == "" {
		account.Role = codec.RolePassenger
	}
	account.Password = ""
	account.Wallet = walletAddr
	return account, nil
}

// Account returns the account row for username, without its password.
func (s *Service) Account(ctx context.Context, username string) (codec.Account, error) {
	snap, err := s.store.Read(ctx, s.tables.Accounts)
	if err != nil {
		return codec.Account{}, err
	}
	row, _, ok := codec.FindFirst(snap.Rows, func(r codec.Row) bool {
		return r.Field(codec.AccountUsername) == username
	})
	if !ok {
		return codec.Account{}, fmt.Errorf("%w: account %s", store.ErrRecordNotFound, username)
	}
	account := codec.AccountFromRow(row)
	account.Password = ""
	return account, nil
}
