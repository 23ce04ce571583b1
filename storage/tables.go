package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/jamiemulcahy/yart/domain"
)

// maxBatch is the entity group transaction limit of Table Storage.
const maxBatch = 100

// Tables stores rooms in Azure Table Storage, one partition per room.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, table string) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesClientOptions())
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(table)}, nil
}

func tablesClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

type rowEntity struct {
	aztables.Entity
	Data string `json:"Data"`
}

func (t *Tables) LoadRoom(ctx context.Context, roomID string) (domain.RoomState, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(roomID, "'", "''") + "'"
	pager := t.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var state domain.RoomState
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.RoomState{}, fmt.Errorf("load room %s: %w", roomID, err)
		}
		for _, e := range resp.Entities {
			ent, err := decodeRowEntity(e)
			if err != nil {
				return domain.RoomState{}, err
			}
			if err := decodeRow(&state, ent.RowKey, []byte(ent.Data)); err != nil {
				return domain.RoomState{}, err
			}
		}
	}
	state.Normalize()
	return state, nil
}

func decodeRowEntity(data []byte) (rowEntity, error) {
	var ent rowEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return rowEntity{}, fmt.Errorf("decode entity: %w", err)
	}
	return ent, nil
}

// Commit submits the changes as entity group transactions. Changes touching the
// same row collapse to the last one, since a batch may name a row only once.
//
// A single transaction holds at most maxBatch rows, so a large cascade is split.
// Card deletes are ordered first and batches are cut from the end, which keeps
// every column and meta write in the final transaction: any prefix that lands
// before a failure only removes cards.
func (t *Tables) Commit(ctx context.Context, roomID string, changes []domain.Change) error {
	actions, err := transactionActions(roomID, changes)
	if err != nil {
		return err
	}
	for _, batch := range batches(actions) {
		if _, err := t.table.SubmitTransaction(ctx, batch, nil); err != nil {
			return fmt.Errorf("commit room %s: %w", roomID, err)
		}
	}
	return nil
}

func batches(actions []aztables.TransactionAction) [][]aztables.TransactionAction {
	var out [][]aztables.TransactionAction
	head := len(actions) % maxBatch
	if head > 0 {
		out = append(out, actions[:head])
	}
	for start := head; start < len(actions); start += maxBatch {
		out = append(out, actions[start:start+maxBatch])
	}
	return out
}

func transactionActions(roomID string, changes []domain.Change) ([]aztables.TransactionAction, error) {
	index := make(map[string]int)
	var actions []aztables.TransactionAction
	var cardDelete []bool
	for _, ch := range changes {
		key := rowKey(ch)
		action := aztables.TransactionAction{ActionType: aztables.TransactionTypeInsertReplace}
		ent := rowEntity{Entity: aztables.Entity{PartitionKey: roomID, RowKey: key}}
		if isDelete(ch.Op) {
			action.ActionType = aztables.TransactionTypeDelete
		} else {
			data, err := rowValue(ch)
			if err != nil {
				return nil, err
			}
			ent.Data = string(data)
		}
		raw, err := sonic.Marshal(ent)
		if err != nil {
			return nil, err
		}
		action.Entity = raw
		if i, ok := index[key]; ok {
			actions[i] = action
			cardDelete[i] = ch.Op == domain.OpDeleteCard
			continue
		}
		index[key] = len(actions)
		actions = append(actions, action)
		cardDelete = append(cardDelete, ch.Op == domain.OpDeleteCard)
	}

	// Card deletes go first, everything else keeps its relative order.
	ordered := make([]aztables.TransactionAction, 0, len(actions))
	for i, a := range actions {
		if cardDelete[i] {
			ordered = append(ordered, a)
		}
	}
	for i, a := range actions {
		if !cardDelete[i] {
			ordered = append(ordered, a)
		}
	}
	return ordered, nil
}
