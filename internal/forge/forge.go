// Package forge implements the code-forge boundary (spec §1: "out of scope,
// external collaborator, interface only"). The pipeline depends only on the
// Client interface; githubClient is a concrete GitHub implementation
// grounded on the teacher's ghclient package, extended with the draft-PR,
// media-branch, and invitation operations this spec needs that the
// teacher's review-only client didn't (spec §6 Forge surface).
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-github/v68/github"
	"github.com/pkg/errors"
)

// PullRequest is the subset of forge PR state the pipeline tracks.
type PullRequest struct {
	Number int
	URL    string
	Title  string
	Draft  bool
	NodeID string
}

// Client is the code-forge boundary: branch existence, draft PR
// create/edit/ready, media-branch file upload, and invitation handling
// (spec §6).
type Client interface {
	// BranchExists reports whether branch exists in the repo.
	BranchExists(ctx context.Context, owner, repo, branch string) (bool, error)

	// CreateDraftPR opens a new draft pull request, assigned to assignee.
	CreateDraftPR(ctx context.Context, owner, repo, head, base, title, body, assignee string) (*PullRequest, error)

	// EditPR updates an existing PR's title and/or body. An empty string
	// leaves the corresponding field unchanged.
	EditPR(ctx context.Context, owner, repo string, number int, title, body string) error

	// MarkReady transitions a draft PR to ready-for-review (spec §6: "via
	// the forge's GraphQL mutation").
	MarkReady(ctx context.Context, owner, repo string, number int) error

	// UploadToMediaBranch uploads data to repoPath on the repo's dedicated
	// media branch (created from base if absent), returning a stable
	// raw-content URL (spec §4.8.4, §6).
	UploadToMediaBranch(ctx context.Context, owner, repo, mediaBranch, base, repoPath string, data []byte) (url string, err error)

	// PendingInvitations lists pending repository invitations for the
	// authenticated credential.
	PendingInvitations(ctx context.Context) ([]Invitation, error)

	// AcceptInvitation accepts a pending invitation by ID.
	AcceptInvitation(ctx context.Context, invitationID int64) error
}

// Invitation is a pending user-level repository invitation.
type Invitation struct {
	ID       int64
	RepoName string
}

// githubClient implements Client over google/go-github.
type githubClient struct {
	gh    *github.Client
	token string
}

// NewClient builds a Client authenticated with token.
func NewClient(token string) Client {
	return &githubClient{
		gh:    github.NewClient(nil).WithAuthToken(token),
		token: token,
	}
}

// NewClientWithGitHub builds a Client from an existing *github.Client,
// letting tests point it at an httptest.Server (mirrors the teacher's
// NewClientWithGitHub).
func NewClientWithGitHub(gh *github.Client, token string) Client {
	return &githubClient{gh: gh, token: token}
}

func (c *githubClient) BranchExists(ctx context.Context, owner, repo, branch string) (bool, error) {
	_, resp, err := c.gh.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, errors.Wrapf(err, "checking branch %q exists", branch)
	}
	return true, nil
}

func (c *githubClient) CreateDraftPR(ctx context.Context, owner, repo, head, base, title, body, assignee string) (*PullRequest, error) {
	draft := true
	pr, _, err := c.gh.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
		Body:  github.Ptr(body),
		Draft: &draft,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "creating draft PR %s -> %s", head, base)
	}

	if assignee != "" {
		if _, _, err := c.gh.Issues.AddAssignees(ctx, owner, repo, pr.GetNumber(), []string{assignee}); err != nil {
			return nil, errors.Wrapf(err, "assigning PR #%d to %s", pr.GetNumber(), assignee)
		}
	}

	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
		Draft:  pr.GetDraft(),
		NodeID: pr.GetNodeID(),
	}, nil
}

func (c *githubClient) EditPR(ctx context.Context, owner, repo string, number int, title, body string) error {
	update := &github.PullRequest{}
	if title != "" {
		update.Title = github.Ptr(title)
	}
	if body != "" {
		update.Body = github.Ptr(body)
	}
	if _, _, err := c.gh.PullRequests.Edit(ctx, owner, repo, number, update); err != nil {
		return errors.Wrapf(err, "editing PR #%d", number)
	}
	return nil
}

// MarkReady transitions a draft PR to ready, trying the REST edit first and
// falling back to the GraphQL mutation (spec §6), mirroring the teacher's
// MarkPRReadyForReview two-path approach.
func (c *githubClient) MarkReady(ctx context.Context, owner, repo string, number int) error {
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return errors.Wrapf(err, "getting PR #%d", number)
	}
	if !pr.GetDraft() {
		return nil
	}

	draft := false
	_, _, restErr := c.gh.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{Draft: &draft})
	if restErr == nil {
		updated, _, verifyErr := c.gh.PullRequests.Get(ctx, owner, repo, number)
		if verifyErr == nil && !updated.GetDraft() {
			return nil
		}
	}

	nodeID := pr.GetNodeID()
	if nodeID == "" {
		return errors.Wrapf(restErr, "PR #%d has no node ID and REST mark-ready failed", number)
	}
	return c.graphqlMarkReady(ctx, nodeID)
}

func (c *githubClient) graphqlMarkReady(ctx context.Context, pullRequestNodeID string) error {
	query := `mutation($id: ID!) {
		markPullRequestReadyForReview(input: {pullRequestId: $id}) {
			pullRequest { isDraft }
		}
	}`
	payload := map[string]any{
		"query":     query,
		"variables": map[string]string{"id": pullRequestNodeID},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshaling mark-ready mutation")
	}

	graphqlURL := "https://api.github.com/graphql"
	if base := c.gh.BaseURL.String(); base != "" && base != "https://api.github.com/" {
		graphqlURL = base + "graphql"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphqlURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building mark-ready GraphQL request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "mark-ready GraphQL request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mark-ready GraphQL returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil
	}
	if len(result.Errors) > 0 {
		return fmt.Errorf("mark-ready GraphQL error: %s", result.Errors[0].Message)
	}
	return nil
}

// UploadToMediaBranch implements the Visual Diff MediaStore interface over
// GitHub: creates mediaBranch from base if it doesn't exist yet, then
// creates or updates repoPath with data, returning a stable raw-content
// URL (spec §4.8.4, glossary "Media branch").
func (c *githubClient) UploadToMediaBranch(ctx context.Context, owner, repo, mediaBranch, base, repoPath string, data []byte) (string, error) {
	if err := c.ensureBranch(ctx, owner, repo, mediaBranch, base); err != nil {
		return "", err
	}

	var sha *string
	existing, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, repoPath, &github.RepositoryContentGetOptions{Ref: mediaBranch})
	if err == nil && existing != nil {
		sha = existing.SHA
	}

	_, _, err = c.gh.Repositories.CreateFile(ctx, owner, repo, repoPath, &github.RepositoryContentFileOptions{
		Message: github.Ptr("chore: update screenshot " + repoPath),
		Content: data,
		Branch:  github.Ptr(mediaBranch),
		SHA:     sha,
	})
	if err != nil {
		return "", errors.Wrapf(err, "uploading %s to media branch %s", repoPath, mediaBranch)
	}

	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", owner, repo, mediaBranch, repoPath), nil
}

func (c *githubClient) ensureBranch(ctx context.Context, owner, repo, branch, base string) error {
	exists, err := c.BranchExists(ctx, owner, repo, branch)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	baseRef, _, err := c.gh.Git.GetRef(ctx, owner, repo, "refs/heads/"+base)
	if err != nil {
		return errors.Wrapf(err, "resolving base ref %q to branch media branch %q from", base, branch)
	}
	_, _, err = c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.Ptr("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		return errors.Wrapf(err, "creating media branch %q", branch)
	}
	return nil
}

func (c *githubClient) PendingInvitations(ctx context.Context) ([]Invitation, error) {
	var all []Invitation
	opts := &github.ListOptions{PerPage: 100}
	for {
		invites, resp, err := c.gh.Users.ListInvitations(ctx, opts)
		if err != nil {
			return nil, errors.Wrap(err, "listing pending repository invitations")
		}
		for _, inv := range invites {
			all = append(all, Invitation{ID: inv.GetID(), RepoName: inv.GetRepo().GetFullName()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (c *githubClient) AcceptInvitation(ctx context.Context, invitationID int64) error {
	if _, err := c.gh.Users.AcceptInvitation(ctx, invitationID); err != nil {
		return errors.Wrapf(err, "accepting invitation %d", invitationID)
	}
	return nil
}
