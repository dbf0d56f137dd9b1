package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aresa/glimpse/internal/protocol"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndBoost(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	s.Record("dev.files", "report.txt", "Open")
	s.Record("dev.files", "report.txt", "Open")
	s.Record("dev.files", "notes.md", "Open")

	m := protocol.Match{Title: "report.txt", Score: 10}
	s.Boost("dev.files", &m)
	assert.Equal(t, 10+2*boostPerActivation, m.Score)

	other := protocol.Match{Title: "report.txt", Score: 10}
	s.Boost("dev.calc", &other)
	assert.Equal(t, 10.0, other.Score, "counts are scoped per plugin")
}

func TestBoostIsCapped(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	for i := 0; i < 30; i++ {
		s.Record("dev.files", "inbox", "Open")
	}

	m := protocol.Match{Title: "inbox", Score: 1}
	s.Boost("dev.files", &m)
	assert.Equal(t, 1+boostCap, m.Score)
}

func TestCountsSurviveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	s.Record("dev.files", "report.txt", "Open")
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	m := protocol.Match{Title: "report.txt", Score: 0}
	reopened.Boost("dev.files", &m)
	assert.Equal(t, boostPerActivation, m.Score)
}

func TestRecentOrdering(t *testing.T) {
	t.Parallel()

	s := openStore(t)
	s.Record("dev.files", "a", "Open")
	s.Record("dev.files", "b", "Open")
	s.Record("dev.calc", "2+2", "Copy")

	recent, err := s.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, a := range recent {
		assert.NotEmpty(t, a.ID)
		assert.NotEmpty(t, a.PluginID)
	}
}
