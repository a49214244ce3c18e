package fetcher

import (
	"github.com/rs/zerolog"

	"token-indexer/internal/instrument"
)

const (
	antiAddr = "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"
	proAddr  = "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testInstruments() []instrument.Instrument {
	return []instrument.Instrument{
		{Name: "ANTI", Address: antiAddr},
		{Name: "PRO", Address: proAddr},
	}
}
