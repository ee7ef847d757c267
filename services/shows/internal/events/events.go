// Package events publishes catalog change notifications to JetStream.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	StreamName = "CATALOG_SHOWS"

	SubjectUpserted = "catalog.shows.upserted"
	SubjectSeeded   = "catalog.shows.seeded"
	SubjectSynced   = "catalog.shows.synced"
)

var streamSubjects = []string{"catalog.shows.>"}

// Upserted is published after each committed reconciliation page.
type Upserted struct {
	Page        int     `json:"page"`
	ExternalIDs []int64 `json:"external_ids"`
}

// Seeded summarises a bulk seed.
type Seeded struct {
	Source   string `json:"source"`
	Fetched  int    `json:"fetched"`
	Saved    int    `json:"saved"`
	Rejected int    `json:"rejected"`
	Failed   int    `json:"failed"`
}

// Synced summarises a reconciliation run.
type Synced struct {
	RunID      string    `json:"run_id"`
	Result     string    `json:"result"`
	Pages      int       `json:"pages"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Nop discards every event. Used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// jetStream is the subset of nats.JetStreamContext used here.
type jetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	UpdateStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

type JetStreamPublisher struct {
	Log *zap.Logger
	JS  jetStream
}

func NewJetStreamPublisher(log *zap.Logger, nc *nats.Conn) (*JetStreamPublisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &JetStreamPublisher{Log: log, JS: js}, nil
}

// EnsureStream creates the stream or widens its subjects.
func (p *JetStreamPublisher) EnsureStream(context.Context) error {
	info, err := p.JS.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == streamSubjects[0] {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = append(cfg.Subjects, streamSubjects...)
		_, err := p.JS.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = p.JS.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: streamSubjects,
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if _, err := p.JS.Publish(subject, b, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.Log.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(b)))
	return nil
}
