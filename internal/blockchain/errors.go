package blockchain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/p2plend/client/internal/domain/loan"
)

const revertedPrefix = "execution reverted"

// RevertError is a failed state-changing call. Reason is the ledger's revert
// string verbatim, empty when the ledger gave none.
type RevertError struct {
	Method string
	Reason string
	TxHash common.Hash
	Err    error
}

func (e *RevertError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s reverted", e.Method)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.TxHash != (common.Hash{}) {
		fmt.Fprintf(&b, " (tx %s)", e.TxHash.Hex())
	}
	return b.String()
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// rpcDataError matches go-ethereum's rpc.DataError without importing the rpc package.
type rpcDataError interface {
	Error() string
	ErrorData() interface{}
}

// asRevert converts a send/estimate failure into a RevertError when the node
// reports an EVM revert. Other failures (transport, signing) are returned as is.
func asRevert(method string, err error) error {
	if err == nil {
		return nil
	}
	var dataErr rpcDataError
	if errors.As(err, &dataErr) {
		if reason, ok := unpackRevertData(dataErr.ErrorData()); ok {
			return &RevertError{Method: method, Reason: reason, Err: err}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, revertedPrefix); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len(revertedPrefix):], ":"))
		return &RevertError{Method: method, Reason: reason, Err: err}
	}
	return err
}

func unpackRevertData(data interface{}) (string, bool) {
	raw, ok := data.(string)
	if !ok {
		return "", false
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) == 0 {
		return "", false
	}
	reason, err := abi.UnpackRevert(decoded)
	if err != nil {
		return "", false
	}
	return reason, true
}

var knownRevertMessages = []struct {
	fragment string
	message  string
}{
	{"amount too high", "The requested amount exceeds what the marketplace allows."},
	{"amount too low", "The requested amount is below the marketplace minimum."},
	{"duration", "The requested repayment duration is not allowed."},
	{"income", "Your income is too low for the requested loan."},
	{"not allowed", "The ledger rejected the borrowing parameters."},
	{"already", "You already have an open borrowing."},
	{"not enough liquidity", "The marketplace does not have enough liquidity right now."},
	{"not possible", "This action is not possible at the moment."},
}

const genericFailureMessage = "The transaction was aborted or not successful."

// UserMessage translates an error from a ledger operation into the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotConnected) {
		return "Not connected. Please connect your wallet and try again."
	}
	var readErr *loan.ReadError
	if errors.As(err, &readErr) {
		return readErr.Message()
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		reason := strings.ToLower(revert.Reason)
		for _, known := range knownRevertMessages {
			if reason != "" && strings.Contains(reason, known.fragment) {
				return known.message
			}
		}
	}
	return genericFailureMessage
}
