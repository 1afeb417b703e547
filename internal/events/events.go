package events

import (
	"context"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// Event topic constants
const (
	TopicReceiptCreated    = "anchor.receipt.created"
	TopicReceiptTransition = "anchor.receipt.transition"
	TopicReceiptConfirmed  = "anchor.receipt.confirmed"
	TopicReceiptFailed     = "anchor.receipt.failed"
	TopicReceiptAbandoned  = "anchor.receipt.abandoned"
)

// Event types

type ReceiptCreated struct {
	Receipt *model.Receipt `json:"receipt"`
}

type ReceiptTransition struct {
	Receipt *model.Receipt `json:"receipt"`
	From    model.State    `json:"from"`
}

type ReceiptConfirmed struct {
	Receipt *model.Receipt `json:"receipt"`
	TxID    string         `json:"tx_id"`
}

type ReceiptFailed struct {
	Receipt *model.Receipt `json:"receipt"`
	Reason  string         `json:"reason"`
}

type ReceiptAbandoned struct {
	Receipt *model.Receipt `json:"receipt"`
	Reason  string         `json:"reason"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
