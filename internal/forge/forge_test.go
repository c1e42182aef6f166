package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURLPath = "/api-v3"

func setup(t *testing.T) (Client, *http.ServeMux) {
	t.Helper()

	mux := http.NewServeMux()
	apiHandler := http.NewServeMux()
	apiHandler.Handle(baseURLPath+"/", http.StripPrefix(baseURLPath, mux))

	server := httptest.NewServer(apiHandler)
	t.Cleanup(server.Close)

	ghClient := github.NewClient(nil)
	u, _ := url.Parse(server.URL + baseURLPath + "/")
	ghClient.BaseURL = u

	return NewClientWithGitHub(ghClient, "test-token"), mux
}

func TestBranchExists(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/owner/repo/branches/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"name":"main"}`)
	})
	mux.HandleFunc("/repos/owner/repo/branches/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := client.BranchExists(context.Background(), "owner", "repo", "main")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.BranchExists(context.Background(), "owner", "repo", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateDraftPR(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/owner/repo/pulls", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number":7,"html_url":"https://github.com/owner/repo/pull/7","title":"t","draft":true,"node_id":"abc"}`)
	})
	mux.HandleFunc("/repos/owner/repo/issues/7/assignees", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"number":7}`)
	})

	pr, err := client.CreateDraftPR(context.Background(), "owner", "repo", "dog/branch", "main", "t", "body", "dog-user")
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.True(t, pr.Draft)
	assert.Equal(t, "abc", pr.NodeID)
}

func TestMarkReadyRESTPath(t *testing.T) {
	client, mux := setup(t)

	getCount := 0
	mux.HandleFunc("/repos/owner/repo/pulls/9", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			fmt.Fprint(w, `{"number":9,"draft":false,"node_id":"n9"}`)
			return
		}
		getCount++
		if getCount == 1 {
			fmt.Fprint(w, `{"number":9,"draft":true,"node_id":"n9"}`)
		} else {
			fmt.Fprint(w, `{"number":9,"draft":false,"node_id":"n9"}`)
		}
	})

	err := client.MarkReady(context.Background(), "owner", "repo", 9)
	require.NoError(t, err)
}

func TestMarkReadyAlreadyReady(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/repos/owner/repo/pulls/10", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number":10,"draft":false}`)
	})

	err := client.MarkReady(context.Background(), "owner", "repo", 10)
	require.NoError(t, err)
}

func TestPendingInvitationsAndAccept(t *testing.T) {
	client, mux := setup(t)

	mux.HandleFunc("/user/repository_invitations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"repository":{"full_name":"owner/repo"}}]`)
	})
	mux.HandleFunc("/user/repository_invitations/1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	invites, err := client.PendingInvitations(context.Background())
	require.NoError(t, err)
	require.Len(t, invites, 1)
	assert.Equal(t, "owner/repo", invites[0].RepoName)

	err = client.AcceptInvitation(context.Background(), invites[0].ID)
	require.NoError(t, err)
}
