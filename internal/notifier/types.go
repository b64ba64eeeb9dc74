package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDelivery = errors.New("delivery failed")
	ErrStopped  = errors.New("notifier stopped")
)

// Notifier is the delivery capability consumed by the scheduler.
type Notifier interface {
	Deliver(ctx context.Context, address string, topic *string, text string) error
}

// Transport sends one prepared message.
type Transport interface {
	Name() string
	Send(ctx context.Context, m Message) error
	Close() error
}

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Config controls the mail transport and send policy.
//
// Transport values:
//   - "smtp": send through Host:Port
//   - "log": log messages instead of sending (dry run)
type Config struct {
	Transport   string
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	TLS         string // mandatory | opportunistic | none | ssl
	RatePerSec  int
	Timeout     time.Duration
	HistorySize int
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Error   string    `json:"error,omitempty"`
}

// DeliveryEvent is the payload of notifier.sent and notifier.failed.
type DeliveryEvent struct {
	Transport string        `json:"transport"`
	To        string        `json:"to"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}
