package client

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geotig/internal/api"
	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/repository"
)

func setupServer(t *testing.T) (*repository.Repository, *Client) {
	repo, err := repository.OpenInMemory(nil, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewHandler(repo, nil).Routes())
	t.Cleanup(func() {
		srv.Close()
		repo.Close()
	})
	return repo, New(srv.URL)
}

func insert(t *testing.T, repo *repository.Repository, geometry string, path ...string) {
	t.Helper()
	payload, err := repo.Safe.Codec().Marshal(&object.Feature{Geometry: geometry})
	require.NoError(t, err)
	_, err = repo.Staging.RecordInsert(payload, nil, path)
	require.NoError(t, err)
}

func TestClient_Workflow(t *testing.T) {
	repo, c := setupServer(t)
	require.NoError(t, c.Health())

	insert(t, repo, "POINT (0 0)", "ns", "parcels", "1")
	insert(t, repo, "POINT (1 1)", "ns", "roads", "1")

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Unstaged)

	n, err := c.Stage("ns", "parcels")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := c.Commit("ana", "parcels")
	require.NoError(t, err)
	assert.Empty(t, first.Parent)

	n, err = c.Stage()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	second, err := c.Commit("ana", "roads")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.Parent)

	log, err := c.Log("", 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, second.ID, log[0].ID)

	d, err := c.Diff(DiffQuery{From: first.ID, To: "HEAD"})
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, []string{"ns", "roads", "1"}, d.Changes[0].Path)

	tree, err := c.Tree("HEAD", []string{"ns"}, false)
	require.NoError(t, err)
	assert.Len(t, tree.Entries, 2)
}

func TestClient_Errors(t *testing.T) {
	_, c := setupServer(t)

	_, err := c.Commit("ana", "nothing staged")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypePreconditionFailed))

	_, err = c.Tree("", []string{"missing"}, false)
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))

	_, err = c.Stage("ns", "")
	assert.True(t, errors.Is(err, errors.ErrorTypeValidation))
}
