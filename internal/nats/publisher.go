package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher mirrors push events onto core NATS subjects.
type Publisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url string, log zerolog.Logger) (*Publisher, error) {
	log = log.With().Str("component", "nats").Logger()

	nc, err := nats.Connect(url,
		nats.Name("graph-relay"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return &Publisher{nc: nc, log: log}, nil
}

// Publish sends payload on subject. msgID travels in the Nats-Msg-Id header so
// a JetStream stream capturing the subject can drop duplicates.
func (p *Publisher) Publish(subject string, payload []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if msgID != "" {
		msg.Header.Set(nats.MsgIdHdr, msgID)
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc == nil {
		return
	}
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.log.Warn().Err(err).Msg("flush before close failed")
	}
	p.nc.Close()
}
