package pg

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type DriverName string

const DRIVERNAME_POSTGRES DriverName = "postgres"

const (
	minReconnect = 10 * time.Second
	maxReconnect = time.Minute
)

func GetConnection(conn string) (db *sqlx.DB, err error) {
	return sqlx.Connect(string(DRIVERNAME_POSTGRES), conn)
}

// NewListener opens a dedicated LISTEN connection. Connection state changes are logged.
func NewListener(conn string) *pq.Listener {
	return pq.NewListener(conn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info().Msgf("postgres listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn().Err(err).Msgf("postgres listener disconnected")
		case pq.ListenerEventReconnected:
			log.Info().Msgf("postgres listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Error().Err(err).Msgf("postgres listener connection attempt failed")
		}
	})
}
