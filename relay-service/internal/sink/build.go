package sink

import (
	"context"
	"fmt"

	"github.com/weiawesome/wes-io-live/pkg/database"
	"github.com/weiawesome/wes-io-live/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/pkg/storage"
	"github.com/weiawesome/wes-io-live/relay-service/internal/config"
)

// Driver names accepted in sink.drivers.
const (
	DriverRedis      = pubsub.DriverRedis
	DriverKafka      = pubsub.DriverKafka
	DriverArchive    = "archive"
	DriverTranscript = "transcript"
)

// Build opens every configured driver. It returns nil when none are configured.
func Build(cfg *config.Config) (*Multi, error) {
	if len(cfg.Sink.Drivers) == 0 {
		return nil, nil
	}

	var sinks []Sink
	fail := func(err error) (*Multi, error) {
		for _, s := range sinks {
			s.Close()
		}
		return nil, err
	}

	seen := make(map[string]bool)
	for _, driver := range cfg.Sink.Drivers {
		if seen[driver] {
			continue
		}
		seen[driver] = true

		switch driver {
		case DriverRedis, DriverKafka:
			pub, err := pubsub.NewPublisher(cfg.PubSub(driver))
			if err != nil {
				return fail(fmt.Errorf("sink %s: %w", driver, err))
			}
			sinks = append(sinks, NewChannelSink(driver, pub, cfg.Redis.ChannelPrefix))

		case DriverArchive:
			db, err := database.New(&cfg.Database)
			if err != nil {
				return fail(fmt.Errorf("sink %s: %w", driver, err))
			}
			archive, err := NewArchiveSink(db)
			if err != nil {
				database.Close(db)
				return fail(fmt.Errorf("sink %s: %w", driver, err))
			}
			sinks = append(sinks, archive)

		case DriverTranscript:
			store, err := storage.New(context.Background(), cfg.Transcript.Storage)
			if err != nil {
				return fail(fmt.Errorf("sink %s: %w", driver, err))
			}
			sinks = append(sinks, NewTranscriptSink(store, TranscriptOptions{
				Prefix:    cfg.Transcript.Prefix,
				BatchSize: cfg.Transcript.BatchSize,
				MaxAge:    cfg.Transcript.MaxAge,
			}))

		default:
			return fail(fmt.Errorf("unsupported sink driver: %s", driver))
		}
	}

	return NewMulti(sinks...), nil
}
