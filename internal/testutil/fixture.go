package testutil

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"
)

// Station is one row of the stations fixture.
type Station struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	Elevation   float64   `json:"elevation"`
	Active      bool      `json:"active"`
	InstalledAt time.Time `json:"installed_at"`
}

// Stations returns the fixture rows.
func Stations(t testing.TB) []Station {
	var data struct {
		Stations []Station `json:"stations"`
	}
	_, err := LoadJSON("stations.json", &data)
	require.NoError(t, err)
	return data.Stations
}

// DuckDB opens an in-memory DuckDB holding the stations fixture and an empty
// readings table. It is closed when the test ends.
func DuckDB(t testing.TB) *sql.DB {
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE stations (
		id INTEGER PRIMARY KEY,
		name VARCHAR,
		country VARCHAR,
		elevation DOUBLE,
		active BOOLEAN,
		installed_at TIMESTAMP
	)`)
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE readings (station_id INTEGER, observed_at TIMESTAMP, temperature DOUBLE)`)
	require.NoError(t, err)

	for _, s := range Stations(t) {
		_, err := db.Exec(`INSERT INTO stations VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, s.Name, s.Country, s.Elevation, s.Active, s.InstalledAt.UTC())
		require.NoError(t, err)
	}
	return db
}
