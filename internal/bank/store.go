package bank

import (
	"database/sql"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/bowerhall/contextbank/internal/config"
)

func Open(path string, dim int, ranking config.RankingConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, ranking: ranking, dim: dim, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if _, err := s.db.Exec(vecSchema(s.dim)); err != nil {
		return err
	}

	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// Dimensions reports the embedding width the store was opened with.
func (s *Store) Dimensions() int {
	return s.dim
}

func (s *Store) Ranking() config.RankingConfig {
	return s.ranking
}
