package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"

	"github.com/p2plend/client/internal/blockchain"
)

type eventDef struct {
	name      string
	signature string
	category  Category
}

var eventDefs = []eventDef{
	{name: "BorrowingFundingChanged", signature: "BorrowingFundingChanged(address)", category: FundingChanged},
	{name: "InvestmentWithdrawn", signature: "InvestmentWithdrawn(address)", category: InvestmentWithdrawn},
	{name: "InvestmentPaybackChanged", signature: "InvestmentPaybackChanged(address[])", category: InvestmentPaybackChanged},
	{name: "MoneyWithdrawn", signature: "MoneyWithdrawn(address[])", category: MoneyWithdrawn},
}

var (
	defsByTopic   = map[common.Hash]eventDef{}
	watchedTopics []common.Hash
)

func init() {
	for _, def := range eventDefs {
		topic := eventTopic(def.signature)
		defsByTopic[topic] = def
		watchedTopics = append(watchedTopics, topic)
	}
}

func decodeLog(entry types.Log) (RawEvent, bool, error) {
	if len(entry.Topics) == 0 {
		return RawEvent{}, false, nil
	}
	def, ok := defsByTopic[entry.Topics[0]]
	if !ok {
		return RawEvent{}, false, nil
	}
	values, err := blockchain.LendingABI.Unpack(def.name, entry.Data)
	if err != nil {
		return RawEvent{}, false, fmt.Errorf("%s: %w", def.name, err)
	}
	if len(values) != 1 {
		return RawEvent{}, false, fmt.Errorf("%s: expected 1 field, got %d", def.name, len(values))
	}

	var accounts []common.Address
	switch v := values[0].(type) {
	case common.Address:
		accounts = []common.Address{v}
	case []common.Address:
		accounts = v
	default:
		return RawEvent{}, false, fmt.Errorf("%s: unexpected payload %T", def.name, v)
	}
	return RawEvent{
		Category:    def.category,
		Accounts:    accounts,
		TxHash:      entry.TxHash,
		BlockNumber: entry.BlockNumber,
		LogIndex:    entry.Index,
	}, true, nil
}

func eventTopic(signature string) common.Hash {
	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write([]byte(signature))
	return common.BytesToHash(hash.Sum(nil))
}
