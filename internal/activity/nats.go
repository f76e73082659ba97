package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hitoshi/codex/internal/model"
)

// MessagePublisher はNATS接続のPublish部分。*nats.Connが実装する。
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher は操作履歴を <prefix>.activity.<kind> に発行する。
type NATSPublisher struct {
	conn   MessagePublisher
	prefix string
}

// NewNATSPublisher はNATSPublisherを生成する。
func NewNATSPublisher(conn MessagePublisher, prefix string) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Connect はNATSサーバーに接続する。
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("codex"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

type activityMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Subject は種類に対応するサブジェクトを返す。
func (p *NATSPublisher) Subject(kind model.ActivityKind) string {
	return p.prefix + ".activity." + string(kind)
}

// Publish は操作履歴をJSONで発行する。
func (p *NATSPublisher) Publish(_ context.Context, a *model.Activity) error {
	data, err := json.Marshal(activityMessage{
		ID:        a.ID,
		UserID:    a.UserID,
		Kind:      string(a.Kind),
		Message:   a.Message,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}
	if err := p.conn.Publish(p.Subject(a.Kind), data); err != nil {
		return fmt.Errorf("failed to publish activity: %w", err)
	}
	return nil
}

var _ Publisher = (*NATSPublisher)(nil)
