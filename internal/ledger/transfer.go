package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TransferEvent is the ERC-20 event name decoded from token receipts.
const TransferEvent = "Transfer"

// Transfer is a decoded token balance movement.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// transferLog mirrors the Transfer event arguments for abi decoding.
type transferLog struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfers returns the Transfer events emitted by token in logs.
// Logs from other contracts and other events are skipped.
func DecodeTransfers(tokenABI abi.ABI, token common.Address, logs []*types.Log) ([]Transfer, error) {
	event, ok := tokenABI.Events[TransferEvent]
	if !ok {
		return nil, fmt.Errorf("token abi has no %s event", TransferEvent)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	var transfers []Transfer
	for _, lg := range logs {
		if lg == nil || lg.Address != token {
			continue
		}
		if len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		if len(lg.Topics)-1 != len(indexed) {
			continue
		}

		var ev transferLog
		if len(lg.Data) > 0 {
			if err := tokenABI.UnpackIntoInterface(&ev, TransferEvent, lg.Data); err != nil {
				return nil, fmt.Errorf("unpack transfer data in tx %s: %w", lg.TxHash.Hex(), err)
			}
		}
		if err := abi.ParseTopics(&ev, indexed, lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse transfer topics in tx %s: %w", lg.TxHash.Hex(), err)
		}
		if ev.Value == nil {
			ev.Value = new(big.Int)
		}

		transfers = append(transfers, Transfer{From: ev.From, To: ev.To, Value: ev.Value})
	}
	return transfers, nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
