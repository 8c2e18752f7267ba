// Package platform simulates the execution platform Bazaar provisions on:
// global account allocation, balances, artifact deployment, gas-bounded
// remote calls and the asynchronous task facility that chains them.
//
// Account state lives in Redis next to the registry so that accounts left
// behind by failed pipelines stay inspectable across runs.
package platform

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/dyluth/bazaar/pkg/account"
	"github.com/dyluth/bazaar/pkg/market"
	"github.com/redis/go-redis/v9"
)

// Action names a platform primitive. Pipeline steps map one-to-one onto actions.
type Action string

const (
	ActionCreateAccount  Action = "create_account"
	ActionTransfer       Action = "transfer"
	ActionDeployContract Action = "deploy_contract"
	ActionFunctionCall   Action = "function_call"
)

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionCreateAccount, ActionTransfer, ActionDeployContract, ActionFunctionCall:
		return a, nil
	default:
		return "", fmt.Errorf("unknown platform action %q (valid: create_account, transfer, deploy_contract, function_call)", s)
	}
}

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrAccountNotFound    = errors.New("account does not exist")
	ErrNoCode             = errors.New("no contract code deployed")
	ErrMethodNotFound     = errors.New("method not found")
	ErrAlreadyInitialized = errors.New("contract already initialized")
	ErrGasExceeded        = errors.New("exceeded the prepaid gas")
	ErrInjectedFault      = errors.New("injected fault")
)

// Account is the simulator's view of one account.
type Account struct {
	ID          account.ID `json:"id"`
	Balance     *big.Int   `json:"balance"`
	CodeHash    string     `json:"code_hash,omitempty"`
	CodeSize    int        `json:"code_size,omitempty"`
	Initialized bool       `json:"initialized"`
	InitArgs    []byte     `json:"init_args,omitempty"`
	CreatedAtMs int64      `json:"created_at_ms"`
}

// Deployed reports whether contract code is installed on the account.
func (a *Account) Deployed() bool {
	return a.CodeHash != ""
}

// AccountKey returns the Redis key for a simulated account.
// Pattern: bazaar:{instance_name}:platform:account:{account_id}
func AccountKey(instanceName string, id account.ID) string {
	return fmt.Sprintf("bazaar:%s:platform:account:%s", instanceName, id)
}

// Config holds the simulator's costs.
type Config struct {
	// CallGasCost is the gas a function call burns; smaller budgets fail
	CallGasCost Gas

	// CallbackGasCost is the gas a continuation burns; smaller budgets fail
	CallbackGasCost Gas
}

// Simulator is a Redis-backed execution platform.
// It is safe for concurrent use.
type Simulator struct {
	rdb          *redis.Client
	instanceName string
	cfg          Config

	mu     sync.RWMutex
	faults map[Action]error
}

// NewSimulator creates a simulator storing accounts under instanceName.
func NewSimulator(rdb *redis.Client, instanceName string, cfg Config) *Simulator {
	return &Simulator{
		rdb:          rdb,
		instanceName: instanceName,
		cfg:          cfg,
		faults:       make(map[Action]error),
	}
}

// InjectFault makes every subsequent call of action fail with err.
// A nil err uses ErrInjectedFault.
func (s *Simulator) InjectFault(action Action, err error) {
	if err == nil {
		err = ErrInjectedFault
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[action] = err
}

// ClearFaults removes all injected faults.
func (s *Simulator) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[Action]error)
}

func (s *Simulator) fault(action Action) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.faults[action]; ok {
		return fmt.Errorf("%s: %w", action, err)
	}
	return nil
}

// CreateAccount allocates a new account. Account IDs are globally unique:
// creating an existing account fails with ErrAccountExists.
func (s *Simulator) CreateAccount(ctx context.Context, id account.ID) error {
	if err := s.fault(ActionCreateAccount); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}

	key := AccountKey(s.instanceName, id)
	created, err := s.rdb.HSetNX(ctx, key, "created_at_ms", time.Now().UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}

	if err := s.rdb.HSet(ctx, key, "balance", "0", "initialized", false).Err(); err != nil {
		return fmt.Errorf("failed to initialize account: %w", err)
	}
	return nil
}

// Transfer credits amount to an existing account.
func (s *Simulator) Transfer(ctx context.Context, to account.ID, amount *big.Int) error {
	if err := s.fault(ActionTransfer); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount")
	}
	return s.credit(ctx, to, amount)
}

func (s *Simulator) credit(ctx context.Context, to account.ID, amount *big.Int) error {
	key := AccountKey(s.instanceName, to)

	return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "balance").Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
		}
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}

		balance, ok := new(big.Int).SetString(current, 10)
		if !ok {
			return fmt.Errorf("corrupt balance %q for %s", current, to)
		}
		balance.Add(balance, amount)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "balance", balance.String())
			return nil
		})
		return err
	}, key)
}

// DeployContract installs code on an existing account, replacing any
// previous code.
func (s *Simulator) DeployContract(ctx context.Context, id account.ID, code []byte) error {
	if err := s.fault(ActionDeployContract); err != nil {
		return err
	}

	key := AccountKey(s.instanceName, id)
	exists, err := s.rdb.HExists(ctx, key, "created_at_ms").Result()
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	sum := sha256.Sum256(code)
	if err := s.rdb.HSet(ctx, key, "code_hash", hex.EncodeToString(sum[:]), "code_size", len(code)).Err(); err != nil {
		return fmt.Errorf("failed to deploy contract: %w", err)
	}
	return nil
}

// FunctionCall invokes method on the contract deployed at id, attaching
// deposit and bounded by gas.
//
// The simulated marketplace artifact exposes only its initializer. It fails
// when the budget is below the call cost, when the arguments do not decode or
// validate, and when the contract is already initialized.
func (s *Simulator) FunctionCall(ctx context.Context, id account.ID, method string, args []byte, deposit *big.Int, gas Gas) error {
	if err := s.fault(ActionFunctionCall); err != nil {
		return err
	}
	if gas < s.cfg.CallGasCost {
		return fmt.Errorf("%w: %s < %s", ErrGasExceeded, gas, s.cfg.CallGasCost)
	}
	if method != market.InitMethod {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	initArgs, err := market.DecodeInitArgs(args)
	if err != nil {
		return err
	}
	if err := account.ID(initArgs.OwnerID).Validate(); err != nil {
		return fmt.Errorf("invalid owner_id: %w", err)
	}
	if err := initArgs.MarketplaceMetadata.Validate(); err != nil {
		return err
	}

	key := AccountKey(s.instanceName, id)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HMGet(ctx, key, "created_at_ms", "code_hash", "initialized").Result()
		if err != nil {
			return fmt.Errorf("failed to read account: %w", err)
		}
		if fields[0] == nil {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		if fields[1] == nil {
			return fmt.Errorf("%w: %s", ErrNoCode, id)
		}
		if initialized, _ := strconv.ParseBool(fmt.Sprint(fields[2])); initialized {
			return fmt.Errorf("%w: %s", ErrAlreadyInitialized, id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"initialized", true,
				"init_args", base64.StdEncoding.EncodeToString(args),
			)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return err
	}

	if deposit != nil && deposit.Sign() > 0 {
		return s.credit(ctx, id, deposit)
	}
	return nil
}

// CheckCallbackGas fails if gas cannot cover a continuation.
func (s *Simulator) CheckCallbackGas(gas Gas) error {
	if gas < s.cfg.CallbackGasCost {
		return fmt.Errorf("%w: %s < %s", ErrGasExceeded, gas, s.cfg.CallbackGasCost)
	}
	return nil
}

// Account returns the state of an account, or ErrAccountNotFound.
func (s *Simulator) Account(ctx context.Context, id account.ID) (*Account, error) {
	fields, err := s.rdb.HGetAll(ctx, AccountKey(s.instanceName, id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}

	balance, ok := new(big.Int).SetString(fields["balance"], 10)
	if !ok {
		balance = new(big.Int)
	}
	codeSize, _ := strconv.Atoi(fields["code_size"])
	initialized, _ := strconv.ParseBool(fields["initialized"])
	createdAtMs, _ := strconv.ParseInt(fields["created_at_ms"], 10, 64)

	var initArgs []byte
	if encoded := fields["init_args"]; encoded != "" {
		initArgs, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("corrupt init_args for %s: %w", id, err)
		}
	}

	return &Account{
		ID:          id,
		Balance:     balance,
		CodeHash:    fields["code_hash"],
		CodeSize:    codeSize,
		Initialized: initialized,
		InitArgs:    initArgs,
		CreatedAtMs: createdAtMs,
	}, nil
}
