// Package invitations implements the periodic invitation-acceptor
// companion job (spec §4.12): it scans each configured dog's forge
// credential for pending repository invitations and accepts them, so a
// newly shared repo doesn't sit waiting on a human to click Accept.
package invitations

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/forge"
)

// ClientFactory builds a forge.Client authenticated as one dog's own
// credential, since invitations are visible only to the invited account.
type ClientFactory func(credential string) forge.Client

// Acceptor runs one sweep of the roster's pending invitations.
type Acceptor struct {
	roster    *dog.Roster
	newClient ClientFactory
	log       *zap.Logger
}

// New builds an Acceptor over roster. newClient defaults to
// forge.NewClient when nil.
func New(roster *dog.Roster, newClient ClientFactory, log *zap.Logger) *Acceptor {
	if newClient == nil {
		newClient = func(credential string) forge.Client { return forge.NewClient(credential) }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Acceptor{roster: roster, newClient: newClient, log: log}
}

// Run sweeps every dog's pending invitations once, accepting each. A
// failure for one dog or one invitation is logged and does not stop the
// sweep for the rest of the roster.
func (a *Acceptor) Run(ctx context.Context) {
	for _, d := range a.roster.All() {
		client := a.newClient(d.Credential)
		invites, err := client.PendingInvitations(ctx)
		if err != nil {
			a.log.Warn("listing pending invitations failed", zap.String("dog", d.Name), zap.Error(err))
			continue
		}
		for _, inv := range invites {
			if err := client.AcceptInvitation(ctx, inv.ID); err != nil {
				a.log.Warn("accepting invitation failed",
					zap.String("dog", d.Name), zap.String("repo", inv.RepoName), zap.Error(err))
				continue
			}
			a.log.Info("accepted repository invitation",
				zap.String("dog", d.Name), zap.String("repo", inv.RepoName))
		}
	}
}

// Schedule registers Run on c at spec (a standard 5-field cron expression),
// firing in the background once c.Start() has been called (spec §4.12:
// "a periodic companion job").
func (a *Acceptor) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() { a.Run(context.Background()) })
}
