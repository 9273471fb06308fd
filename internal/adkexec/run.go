// Package adkexec runs pipeline loops as Google ADK agents.
package adkexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/adk/agent"
	adkrunner "google.golang.org/adk/runner"
	"google.golang.org/adk/session"
)

const (
	appName = "mdia"
	userID  = "mdia-cli"
)

// outcome summarizes one ADK invocation.
type outcome struct {
	Events int
	Done   bool
}

// invoke runs a in a fresh in-memory session keyed by the analysis id and
// reports whether the agent flagged completion in session state.
func invoke(ctx context.Context, analysisID string, a agent.Agent, state map[string]any) (outcome, error) {
	if a == nil {
		return outcome{}, errors.New("adk agent is required")
	}

	sessions := session.InMemoryService()
	r, err := adkrunner.New(adkrunner.Config{
		AppName:        appName,
		Agent:          a,
		SessionService: sessions,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("create ADK runner: %w", err)
	}
	created, err := sessions.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: analysisID,
		State:     state,
	})
	if err != nil {
		return outcome{}, fmt.Errorf("create ADK session: %w", err)
	}

	var out outcome
	for ev, runErr := range r.Run(ctx, userID, created.Session.ID(), nil, agent.RunConfig{}) {
		if runErr != nil {
			return out, runErr
		}
		if ev != nil {
			out.Events++
		}
	}

	final, err := sessions.Get(ctx, &session.GetRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: created.Session.ID(),
	})
	if err != nil {
		return out, fmt.Errorf("get ADK session: %w", err)
	}
	if v, err := final.Session.State().Get(stateDone); err == nil {
		out.Done, _ = v.(bool)
	}
	log.Debug().Str("analysis_id", analysisID).Int("events", out.Events).Bool("done", out.Done).Msg("adk invocation finished")
	return out, nil
}
