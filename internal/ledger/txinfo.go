package ledger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-ledger/pkg/tx"
	"github.com/Klingon-tech/klingnet-ledger/pkg/types"
)

// Status is the confirmation state of a locally recorded transaction.
type Status uint8

const (
	StatusUnconfirmed Status = iota
	StatusConfirmed
)

func (s Status) String() string {
	switch s {
	case StatusUnconfirmed:
		return "unconfirmed"
	case StatusConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "unconfirmed":
		*s = StatusUnconfirmed
	case "confirmed":
		*s = StatusConfirmed
	default:
		return fmt.Errorf("unknown status %q", name)
	}
	return nil
}

// TransactionInfo records how a transaction relates to local accounts.
type TransactionInfo struct {
	TxHash      types.Hash      `json:"txHash"`
	TxType      uint16          `json:"txType"`
	Time        int64           `json:"time"`
	BlockHeight int64           `json:"blockHeight"`
	Status      Status          `json:"status"`
	Addresses   []types.Address `json:"addresses"`
}

func newTransactionInfo(t *tx.Transaction, status Status, related []types.Address) *TransactionInfo {
	return &TransactionInfo{
		TxHash:      t.Hash(),
		TxType:      t.Type,
		Time:        t.Time,
		BlockHeight: t.BlockHeight,
		Status:      status,
		Addresses:   append([]types.Address(nil), related...),
	}
}

// merge folds a previously stored record into info: addresses are unioned
// and a confirmed record is never downgraded to unconfirmed.
func (info *TransactionInfo) merge(prev *TransactionInfo) {
	if prev == nil {
		return
	}
	seen := make(map[types.Address]struct{}, len(info.Addresses))
	for _, a := range info.Addresses {
		seen[a] = struct{}{}
	}
	for _, a := range prev.Addresses {
		if _, ok := seen[a]; !ok {
			info.Addresses = append(info.Addresses, a)
		}
	}
	if prev.Status == StatusConfirmed && info.Status == StatusUnconfirmed {
		info.Status = StatusConfirmed
		info.BlockHeight = prev.BlockHeight
	}
}

// sortInfos orders records most recent first: time, then block height,
// both descending, then hash.
func sortInfos(infos []*TransactionInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.Time != b.Time {
			return a.Time > b.Time
		}
		if a.BlockHeight != b.BlockHeight {
			return a.BlockHeight > b.BlockHeight
		}
		return a.TxHash.Compare(b.TxHash) < 0
	})
}
